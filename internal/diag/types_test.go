package diag

import "testing"

func TestMakeTag(t *testing.T) {
	tests := []struct {
		name string
		want OpTag
		str  string
	}{
		{"Flash Address Test", 0x466C6173, "Flas"},
		{"FADR", 0x46414452, "FADR"},
		{"AB", 0x4142, "AB"},
		{"", OpNone, "----"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			got := MakeTag(tt.name)
			if got != tt.want {
				t.Errorf("MakeTag(%q) = 0x%08X, want 0x%08X", tt.name, uint32(got), uint32(tt.want))
			}
			if got.String() != tt.str {
				t.Errorf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}

func TestTagsAreDistinct(t *testing.T) {
	seen := make(map[OpTag]string)
	regions := append([]RegionID{}, MemoryRegions...)
	regions = append(regions, RegionCache)
	for _, r := range regions {
		for a := AlgAddress; a <= AlgCache; a++ {
			tag := Tag(r, a)
			name := r.String() + " " + a.String()
			if prev, dup := seen[tag]; dup {
				t.Fatalf("tag %s shared by %q and %q", tag, prev, name)
			}
			seen[tag] = name
		}
	}
}

func TestClassifyReset(t *testing.T) {
	tests := []struct {
		name  string
		flags uint32
		want  ResetCause
	}{
		{"iwdg", RstIWDG | RstPin, ResetWatchdog},
		{"wwdg", RstWWDG, ResetWatchdog},
		{"pin", RstPin, ResetPin},
		{"power-on", RstBOR | RstPin, ResetPowerOn},
		{"software", RstSoft, ResetOther},
		{"none", 0, ResetOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyReset(tt.flags); got != tt.want {
				t.Errorf("ClassifyReset(0x%08X) = %v, want %v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestErrIsFatal(t *testing.T) {
	for _, k := range []TrapKind{TrapHard, TrapBus, TrapUsage, TrapMemManage} {
		if !k.Code().IsFatal() {
			t.Errorf("%v code 0x%02X should be fatal", k, uint32(k.Code()))
		}
	}
	for _, e := range []Err{ErrNone, ErrECCDetected, ErrWatchdog, ErrCacheInvalid} {
		if e.IsFatal() {
			t.Errorf("code 0x%02X should not be fatal", uint32(e))
		}
	}
}

func TestParseMode(t *testing.T) {
	for m := ModeNormal; m <= ModeCacheOnly; m++ {
		got, ok := ParseMode(m.String())
		if !ok || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseMode("turbo"); ok {
		t.Errorf("ParseMode accepted unknown mode")
	}
}
