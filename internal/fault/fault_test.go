package fault

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"memdiag/common"
	"memdiag/internal/diag"
	"memdiag/internal/forensics"
)

type regs [forensics.NumSlots]uint32

func (r *regs) ReadBackup(slot int) uint32     { return r[slot] }
func (r *regs) WriteBackup(slot int, v uint32) { r[slot] = v }

type flashStatus struct {
	eccr, sr  uint32
	sticky    bool
	eccClears int
}

func (f *flashStatus) ECCStatus() uint32 { return f.eccr }
func (f *flashStatus) ClearECC(flags uint32) {
	f.eccClears++
	if !f.sticky {
		f.eccr &^= flags
	}
}
func (f *flashStatus) Status() uint32           { return f.sr }
func (f *flashStatus) ClearStatus(flags uint32) { f.sr &^= flags }

func setup(opts ...Option) (*Handler, *regs, *flashStatus, *common.Recorder) {
	r := &regs{}
	fl := &flashStatus{}
	log := common.NewRecorder(32, nil)
	store := forensics.NewStore(r, log)
	store.SetCycle(17)
	store.UpdateOperation("FADR")
	return NewHandler(store, fl, log, opts...), r, fl, log
}

func TestFlashIRQ(t *testing.T) {
	tests := []struct {
		name      string
		eccr, sr  uint32
		wantECC   uint32
		wantError diag.Err
		want      []Event
	}{
		{
			name:      "correctable",
			eccr:      ECCC | 0x123,
			wantECC:   1,
			wantError: diag.ErrECCDetected,
			want:      []Event{{Kind: EventECCCorrected, Flags: ECCC, Addr: 0x123, Op: diag.MakeTag("FADR"), Cycle: 17}},
		},
		{
			name:      "uncorrectable",
			eccr:      ECCD | 0x40,
			wantECC:   1,
			wantError: diag.ErrECCDetected,
			want:      []Event{{Kind: EventECCUncorrected, Flags: ECCD, Addr: 0x40, Op: diag.MakeTag("FADR"), Cycle: 17}},
		},
		{
			name:      "both flags latched",
			eccr:      ECCD | ECCC | 0x40,
			wantECC:   2,
			wantError: diag.ErrECCDetected,
			want:      []Event{{Kind: EventECCUncorrected, Flags: ECCD | ECCC, Addr: 0x40, Op: diag.MakeTag("FADR"), Cycle: 17}},
		},
		{
			name:      "operation error",
			sr:        FlashPROGERR | FlashWRPERR | 1,
			wantError: diag.ErrNone,
			want:      []Event{{Kind: EventFlashError, Flags: FlashPROGERR | FlashWRPERR, Op: diag.MakeTag("FADR"), Cycle: 17}},
		},
		{
			name:      "nothing pending",
			wantError: diag.ErrNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, r, fl, _ := setup()
			fl.eccr, fl.sr = tt.eccr, tt.sr

			h.FlashIRQ()

			if h.ECCCount() != tt.wantECC {
				t.Errorf("ECCCount() got %d, want %d", h.ECCCount(), tt.wantECC)
			}
			if fl.eccr&ECCFlags != 0 || fl.sr&FlashErrors != 0 {
				t.Errorf("flags not cleared: eccr 0x%08X sr 0x%08X", fl.eccr, fl.sr)
			}
			if diag.Err(r[forensics.SlotError]) != tt.wantError {
				t.Errorf("persisted error got 0x%X, want 0x%X", r[forensics.SlotError], tt.wantError)
			}
			if diag.OpTag(r[forensics.SlotOperation]) != diag.MakeTag("FADR") {
				t.Errorf("operation tag overwritten: %v", diag.OpTag(r[forensics.SlotOperation]))
			}
			if diff := cmp.Diff(tt.want, h.Drain()); diff != "" {
				t.Errorf("events (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlashErrorKeepsUnrelatedBits(t *testing.T) {
	h, _, fl, _ := setup()
	fl.sr = FlashOPERR | 1<<16 // BSY
	h.FlashIRQ()
	if fl.sr != 1<<16 {
		t.Errorf("status got 0x%08X, want busy bit only", fl.sr)
	}
}

func TestQueueOverflow(t *testing.T) {
	h, _, fl, log := setup(WithQueueDepth(2))
	fl.eccr = ECCC
	fl.sticky = true

	for i := 0; i < 3; i++ {
		h.FlashIRQ()
	}
	if h.ECCCount() != 3 {
		t.Errorf("ECCCount() got %d, want 3", h.ECCCount())
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped() got %d, want 1", h.Dropped())
	}
	if got := len(h.Drain()); got != 2 {
		t.Errorf("Drain() got %d events, want 2", got)
	}
	if h.Dropped() != 0 || !log.Contains("1 flash interrupt events lost") {
		t.Errorf("lost events not reported")
	}

	h.ResetECCCount()
	if h.ECCCount() != 0 {
		t.Errorf("ResetECCCount() left %d", h.ECCCount())
	}
}

func TestInterruptPreemptsForeground(t *testing.T) {
	h, _, fl, _ := setup(WithQueueDepth(256))
	fl.eccr = ECCC
	fl.sticky = true

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.FlashIRQ()
		}
	}()

	var drained int
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		drained += len(h.Drain())
	}

	if drained != 100 || h.ECCCount() != 100 {
		t.Errorf("drained %d events, ECC count %d, want 100 each", drained, h.ECCCount())
	}
}

func TestTrap(t *testing.T) {
	tests := []struct {
		kind diag.TrapKind
		code diag.Err
	}{
		{diag.TrapHard, diag.ErrHardFault},
		{diag.TrapBus, diag.ErrBusFault},
		{diag.TrapUsage, diag.ErrUsageFault},
		{diag.TrapMemManage, diag.ErrMemManage},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			h, r, _, log := setup(WithHalt(PanicOnHalt))

			func() {
				defer func() {
					got, ok := recover().(Halted)
					if !ok || got.Kind != tt.kind {
						t.Errorf("recovered %v, want Halted{%v}", got, tt.kind)
					}
				}()
				h.Trap(tt.kind)
				t.Errorf("Trap() returned")
			}()

			want := regs{uint32(diag.MakeTag("FADR")), 17, uint32(tt.code), 0}
			if diff := cmp.Diff(want, *r); diff != "" {
				t.Errorf("forensics (-want +got):\n%s", diff)
			}
			if !log.Contains(tt.kind.String() + " DETECTED") {
				t.Errorf("trap message missing: %v", log.Entries())
			}
		})
	}
}
