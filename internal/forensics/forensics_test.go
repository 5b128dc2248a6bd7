package forensics

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"memdiag/common"
	"memdiag/internal/diag"
)

type regs [NumSlots]uint32

func (r *regs) ReadBackup(slot int) uint32     { return r[slot] }
func (r *regs) WriteBackup(slot int, v uint32) { r[slot] = v }

type resetStatus struct {
	flags   uint32
	cleared int
}

func (s *resetStatus) ResetFlags() uint32 { return s.flags }
func (s *resetStatus) ClearResetFlags() {
	s.flags = 0
	s.cleared++
}

func TestRecord(t *testing.T) {
	r := &regs{}
	log := common.NewRecorder(16, nil)
	s := NewStore(r, log)
	s.SetCycle(42)

	tag := diag.Tag(diag.RegionSRAM1, diag.AlgButterfly)
	s.Record(tag, diag.ErrNone)
	if diff := cmp.Diff(regs{uint32(tag), 42, 0, 0}, *r); diff != "" {
		t.Errorf("registers (-want +got):\n%s", diff)
	}
	if log.Count(common.SeverityError) != 0 {
		t.Errorf("ERR_NONE record was logged")
	}

	s.Record(tag, diag.ErrECCDetected)
	if r[SlotError] != uint32(diag.ErrECCDetected) {
		t.Errorf("error slot got 0x%X", r[SlotError])
	}
	if !log.Contains("ERR_ECC_DETECTED") || !log.Contains("Cycle=42") || !log.Contains("Op=1BFY") {
		t.Errorf("notification missing fields: %v", log.Entries())
	}
	if s.LastOp() != tag {
		t.Errorf("LastOp() got %v, want %v", s.LastOp(), tag)
	}
}

func TestUpdateOperation(t *testing.T) {
	r := &regs{}
	s := NewStore(r, nil)
	s.SetCycle(3)

	tag := s.UpdateOperation("Flash Address Test")
	if tag != 0x466C6173 || r[SlotOperation] != 0x466C6173 {
		t.Errorf("tag got 0x%08X, register 0x%08X", uint32(tag), r[SlotOperation])
	}
	if r[SlotCycle] != 3 || r[SlotError] != 0 {
		t.Errorf("cycle/error got %d/%d", r[SlotCycle], r[SlotError])
	}

	long := strings.Repeat("x", 100)
	s.UpdateOperation(long)
	if len(s.Operation()) != MaxOperationName {
		t.Errorf("Operation() length got %d, want %d", len(s.Operation()), MaxOperationName)
	}
}

func TestClassifyWatchdogBoot(t *testing.T) {
	tag := diag.Tag(diag.RegionFlash, diag.AlgCheckerboard)
	r := &regs{uint32(tag), 1234, uint32(diag.ErrBusFault), 6}
	rs := &resetStatus{flags: diag.RstIWDG | diag.RstPin}
	log := common.NewRecorder(16, nil)

	got := NewStore(r, log).ClassifyBoot(rs)
	want := BootReport{
		Cause:      diag.ResetWatchdog,
		RawFlags:   diag.RstIWDG | diag.RstPin,
		Valid:      true,
		LastOp:     tag,
		LastCycle:  1234,
		LastError:  diag.ErrBusFault,
		ResetCount: 7,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BootReport (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(regs{0, 0, 0, 7}, *r); diff != "" {
		t.Errorf("registers after boot (-want +got):\n%s", diff)
	}
	if rs.cleared != 1 || rs.flags != 0 {
		t.Errorf("reset flags not cleared")
	}
	if log.Count(common.SeverityWarning) != 1 || !log.Contains("Last operation: FCKB, cycle 1234") {
		t.Errorf("boot report not logged: %v", log.Entries())
	}
}

func TestClassifyClearingBoots(t *testing.T) {
	tests := []struct {
		name  string
		flags uint32
		cause diag.ResetCause
	}{
		{"pin", diag.RstPin, diag.ResetPin},
		{"power-on", diag.RstBOR | diag.RstPin, diag.ResetPowerOn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &regs{0x46434B42, 99, uint32(diag.ErrHardFault), 5}
			rs := &resetStatus{flags: tt.flags}
			got := NewStore(r, nil).ClassifyBoot(rs)

			if got.Cause != tt.cause || got.Valid || got.ResetCount != 5 {
				t.Errorf("BootReport got %+v", got)
			}
			if diff := cmp.Diff(regs{0, 0, 0, 5}, *r); diff != "" {
				t.Errorf("registers (-want +got):\n%s", diff)
			}
			if rs.cleared != 1 {
				t.Errorf("reset flags cleared %d times", rs.cleared)
			}
		})
	}
}

func TestClassifyOtherBoot(t *testing.T) {
	r := &regs{0x46434B42, 99, 0, 2}
	rs := &resetStatus{flags: diag.RstSoft}
	got := NewStore(r, nil).ClassifyBoot(rs)

	if got.Cause != diag.ResetOther || got.RawFlags != diag.RstSoft || got.Valid {
		t.Errorf("BootReport got %+v", got)
	}
	if got.String() != "Reset cause: 0x10000000" {
		t.Errorf("String() got %q", got.String())
	}
	if diff := cmp.Diff(regs{0x46434B42, 99, 0, 2}, *r); diff != "" {
		t.Errorf("record changed by other boot (-want +got):\n%s", diff)
	}
	if rs.cleared != 1 {
		t.Errorf("reset flags not cleared")
	}
}

func TestWatchdogTallyAcrossBoots(t *testing.T) {
	r := &regs{}
	s := NewStore(r, nil)
	for i := uint32(1); i <= 3; i++ {
		s.UpdateOperation("SRAM1 March")
		s.ClassifyBoot(&resetStatus{flags: diag.RstIWDG})
		if s.ResetCount() != i {
			t.Fatalf("boot %d: tally got %d", i, s.ResetCount())
		}
	}
	s.ClassifyBoot(&resetStatus{flags: diag.RstPin})
	if s.ResetCount() != 3 {
		t.Errorf("pin reset changed tally to %d", s.ResetCount())
	}
}
