package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"memdiag/common"
	"memdiag/internal/config"
	"memdiag/internal/diag"
	"memdiag/internal/fault"
	"memdiag/internal/forensics"
	"memdiag/internal/region"
	"memdiag/internal/sim"
	"memdiag/internal/status"
)

func hardware(tgt *sim.Target) Hardware {
	return Hardware{
		Memory:      tgt,
		Flash:       tgt.Flash,
		Cache:       tgt.Flash.Cache(),
		FlashStatus: tgt.Flash,
		Backup:      tgt.Backup,
		Reset:       tgt.RCC,
		Watchdog:    tgt.IWDG,
		Clock:       tgt.Clock,
	}
}

func fixedWindows(c *config.Config) {
	c.RotateOffsets = false
	c.RotateSizes = false
}

func newRig(t *testing.T, tgt *sim.Target, mutate func(*config.Config), opts ...Option) (*Engine, *sim.Target, *common.Recorder) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if tgt == nil {
		var err error
		if tgt, err = sim.New(cfg.Regions); err != nil {
			t.Fatal(err)
		}
	}
	log := common.NewRecorder(256, nil)
	opts = append([]Option{WithHalt(fault.PanicOnHalt)}, opts...)
	e, err := New(cfg, hardware(tgt), log, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	tgt.Connect(e.Faults())
	return e, tgt, log
}

func TestRunBeforeBoot(t *testing.T) {
	e, _, _ := newRig(t, nil, nil)
	if _, err := e.RunCycle(); !errors.Is(err, ErrNotBooted) {
		t.Errorf("RunCycle() before Boot error = %v", err)
	}
}

func TestHealthyCycles(t *testing.T) {
	e, tgt, _ := newRig(t, nil, nil)
	if got := e.Boot().Cause; got != diag.ResetPowerOn {
		t.Errorf("first boot cause %v, want power-on", got)
	}

	out := tgt.Supervise(func() error { return e.Run(context.Background(), 20) })
	if out.Reset || out.Err != nil {
		t.Fatalf("run ended with %v", out)
	}

	for _, s := range e.StatusAll() {
		if s.TotalErrors != 0 || s.TransactionFailures != 0 || s.Successes() != s.Attempts() {
			t.Errorf("healthy target reported %v", s)
		}
	}
	flash := e.Status(diag.RegionFlash)
	if got := flash.Families[diag.FamilyAddress].Attempts; got != 40 {
		t.Errorf("flash address attempts got %d, want 40", got)
	}
	if got := flash.Families[diag.FamilyData].Attempts; got != 40 {
		t.Errorf("flash data attempts got %d, want 40", got)
	}
	if got := e.Status(diag.RegionCache).Families[diag.FamilyCache].Attempts; got != 20 {
		t.Errorf("cache attempts got %d, want 20", got)
	}
	if got := e.Status(diag.RegionSRAM1).Families[diag.FamilyMarch].Attempts; got != 2 {
		t.Errorf("march attempts got %d, want 2", got)
	}
	if got := e.Status(diag.RegionSRAM2).Families[diag.FamilyWalking].Attempts; got != 2 {
		t.Errorf("walking attempts got %d, want 2", got)
	}
	if e.Cycle() != 20 || tgt.IWDG.Refreshes() == 0 {
		t.Errorf("cycle %d, refreshes %d", e.Cycle(), tgt.IWDG.Refreshes())
	}
}

func TestStuckBitDetected(t *testing.T) {
	e, tgt, log := newRig(t, nil, fixedWindows)
	e.Boot()
	tgt.Bus.InjectStuckBits(0x20018410, 0x1, 0x1)

	res, err := e.RunCycle()
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors == 0 {
		t.Fatalf("stuck bit not detected")
	}
	s := e.Status(diag.RegionSRAM2)
	if s.TotalErrors != res.Errors || s.Families[diag.FamilyData].Failures() == 0 {
		t.Errorf("SRAM2 status %v", s)
	}
	if !log.Contains("addr=0x20018410") || !log.Contains("ERR_SRAM_READ") {
		t.Errorf("mismatch not reported: %v", log.Entries())
	}
	if e.Status(diag.RegionSRAM1).TotalErrors != 0 {
		t.Errorf("fault leaked into SRAM1")
	}
}

func TestButterflyFoldsCountedOnce(t *testing.T) {
	plan := Plan{{Region: diag.RegionFlash, Algorithm: diag.AlgButterfly}}
	e, _, log := newRig(t, nil, fixedWindows, WithPlan(plan))
	e.Boot()
	for i := 0; i < 3; i++ {
		if _, err := e.RunCycle(); err != nil {
			t.Fatal(err)
		}
	}

	// the flash window is a sixteenth of the region, so every spread pair folds
	s := e.Status(diag.RegionFlash)
	if s.SkippedPairs != 3*16 {
		t.Errorf("skipped pairs got %d, want %d", s.SkippedPairs, 3*16)
	}
	if s.TotalErrors != 0 || s.Families[diag.FamilyAddress] != (status.Counter{Attempts: 3, Successes: 3}) {
		t.Errorf("flash status %v", s)
	}
	warned := 0
	for _, en := range log.Entries() {
		if en.Severity == common.SeverityWarning && strings.Contains(en.Message, "butterfly pairs fold onto one word") {
			warned++
		}
	}
	if warned != 1 {
		t.Errorf("fold warnings got %d, want 1", warned)
	}
	if got := log.Count(common.SeverityDebug); got != 3*16 {
		t.Errorf("per pair debug lines got %d, want %d", got, 3*16)
	}
}

func TestTrapExplainedAfterRestart(t *testing.T) {
	e, tgt, _ := newRig(t, nil, fixedWindows)
	// inside the SRAM1 window, at an address-test stride point
	tgt.Bus.InjectBusFault(0x20002100, diag.TrapBus)

	out := tgt.Supervise(func() error {
		e.Boot()
		return e.Run(context.Background(), 5)
	})
	if out.Trap == nil || *out.Trap != diag.TrapBus {
		t.Fatalf("outcome %v, want watchdog reset after bus fault", out)
	}

	tgt.Bus.ClearFaults()
	e2, _, _ := newRig(t, tgt, fixedWindows)
	got := e2.Boot()
	want := forensics.BootReport{
		Cause:      diag.ResetWatchdog,
		RawFlags:   diag.RstIWDG | diag.RstPin,
		Valid:      true,
		LastOp:     diag.Tag(diag.RegionSRAM1, diag.AlgAddress),
		LastCycle:  1,
		LastError:  diag.ErrBusFault,
		ResetCount: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BootReport (-want +got):\n%s", diff)
	}

	if out := tgt.Supervise(func() error { return e2.Run(context.Background(), 2) }); out.Reset {
		t.Errorf("restarted session failed: %v", out)
	}
}

func TestECCEvents(t *testing.T) {
	e, tgt, log := newRig(t, nil, fixedWindows)
	e.Boot()
	tgt.Flash.InjectECC(0x08020100, false)

	res, err := e.RunCycle()
	if err != nil {
		t.Fatal(err)
	}
	if e.Faults().ECCCount() == 0 || len(res.Events) == 0 {
		t.Fatalf("ECC not seen: count %d events %d", e.Faults().ECCCount(), len(res.Events))
	}
	if res.Events[0].Kind != fault.EventECCCorrected || res.Events[0].Addr != 0x20100 {
		t.Errorf("first event %v", res.Events[0])
	}
	if got := e.Status(diag.RegionFlash).ECCErrors; got != e.Faults().ECCCount() {
		t.Errorf("flash ECC status %d, handler count %d", got, e.Faults().ECCCount())
	}
	if res.Errors != 0 {
		t.Errorf("corrected ECC produced %d data errors", res.Errors)
	}
	if !log.Contains("ERR_ECC_DETECTED") {
		t.Errorf("ECC forensics not notified")
	}

	e.Reinitialize()
	if e.Faults().ECCCount() != 0 || e.Status(diag.RegionFlash).Attempts() != 0 {
		t.Errorf("Reinitialize() left counters")
	}
}

func TestCacheFaults(t *testing.T) {
	t.Run("stale", func(t *testing.T) {
		// the line read back in cycle 1 is still cached when cycle 2 erases
		e, tgt, log := newRig(t, nil, func(c *config.Config) { c.Mode = diag.ModeCacheOnly })
		e.Boot()
		tgt.Flash.SetStaleCache(true)
		if err := e.Run(context.Background(), 2); err != nil {
			t.Fatal(err)
		}
		got := e.Status(diag.RegionCache)
		if diff := cmp.Diff(status.Counter{Attempts: 10, Successes: 9}, got.Families[diag.FamilyCache]); diff != "" {
			t.Errorf("cache counter (-want +got):\n%s", diff)
		}
		if got.TotalErrors != 1 {
			t.Errorf("cache errors got %d, want 1", got.TotalErrors)
		}
		if !log.Contains("(cached)") || !log.Contains("ERR_CACHE_INVALID") {
			t.Errorf("stale read not reported")
		}
	})

	t.Run("erase failure", func(t *testing.T) {
		e, tgt, _ := newRig(t, nil, fixedWindows)
		e.Boot()
		tgt.Flash.FailErase(1)
		res, err := e.RunCycle()
		if err != nil {
			t.Fatal(err)
		}
		got := e.Status(diag.RegionCache)
		if got.TransactionFailures != 1 || got.TotalErrors != 0 || got.Successes() != 0 {
			t.Errorf("cache status %v", got)
		}
		var flashErr bool
		for _, ev := range res.Events {
			flashErr = flashErr || ev.Kind == fault.EventFlashError
		}
		if !flashErr {
			t.Errorf("flash error interrupt not surfaced: %v", res.Events)
		}
		if !tgt.Flash.Locked() {
			t.Errorf("flash left unlocked")
		}
	})
}

func TestPlans(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		mode       diag.Mode
		steps      int
		dueCycle1  int
		dueCycle10 int
	}{
		{diag.ModeNormal, 19, 17, 19},
		{diag.ModeStress, 25, 25, 25},
		{diag.ModeSRAMOnly, 15, 12, 15},
		{diag.ModeFlashOnly, 4, 4, 4},
		{diag.ModeCacheOnly, 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := PlanFor(tt.mode, cfg)
			due := func(c uint32) int {
				n := 0
				for _, s := range p {
					if s.Due(c) {
						n++
					}
				}
				return n
			}
			if len(p) != tt.steps || due(1) != tt.dueCycle1 || due(10) != tt.dueCycle10 {
				t.Errorf("steps %d due(1) %d due(10) %d, want %d %d %d", len(p), due(1), due(10), tt.steps, tt.dueCycle1, tt.dueCycle10)
			}
		})
	}
}

func TestCacheOnlyRefreshesBetweenTests(t *testing.T) {
	e, tgt, _ := newRig(t, nil, func(c *config.Config) { c.Mode = diag.ModeCacheOnly })
	e.Boot()
	before := tgt.IWDG.Refreshes()

	res, err := e.RunCycle()
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps != 5 {
		t.Errorf("steps got %d, want 5", res.Steps)
	}
	if got := tgt.IWDG.Refreshes() - before; got < 5 {
		t.Errorf("refreshes got %d, want at least 5", got)
	}
	if e.Status(diag.RegionFlash).Attempts() != 0 {
		t.Errorf("cache-only mode tested flash windows")
	}
}

type countingReporter struct {
	boots, statuses, configs int
}

func (r *countingReporter) Boot(forensics.BootReport)                    { r.boots++ }
func (r *countingReporter) Status(uint32, []status.TestStatus)           { r.statuses++ }
func (r *countingReporter) Config(uint32, *config.Config, []region.Info) { r.configs++ }

func TestReports(t *testing.T) {
	rep := &countingReporter{}
	e, tgt, _ := newRig(t, nil, func(c *config.Config) {
		c.Mode = diag.ModeFlashOnly
		c.ReportIntervalMs = 1
	}, WithReporter(rep))
	e.Boot()
	start := tgt.Clock.Millis()

	if err := e.Run(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	if rep.boots != 1 || rep.configs != 1 {
		t.Errorf("boots %d configs %d, want 1 each", rep.boots, rep.configs)
	}
	if tgt.Clock.Millis() > start && rep.statuses == 0 {
		t.Errorf("no status report after %d ms", tgt.Clock.Millis()-start)
	}
}

func TestLogReporter(t *testing.T) {
	log := common.NewRecorder(128, nil)
	r := NewLogReporter(log)

	r.Boot(forensics.BootReport{Cause: diag.ResetPowerOn})
	if n := len(log.Entries()); n != 0 {
		t.Errorf("Boot() logged %d lines, want 0", n)
	}

	blocks := status.NewAggregator().All()
	r.Status(4, blocks)
	if n := log.Count(common.SeverityInfo); n != 1+len(blocks) {
		t.Errorf("Status() logged %d lines, want %d", n, 1+len(blocks))
	}
	if !log.Contains("=== Status, cycle 4 ===") {
		t.Errorf("status header missing: %v", log.Entries())
	}

	info := region.Info{ID: diag.RegionCCM, Base: 0x10000000, Size: 0x8000, Offset: 0x400, Window: 0x2000}
	r.Config(5, config.Default(), []region.Info{info})
	if !log.Contains("=== Configuration, cycle 5 ===") || !log.Contains("CCM SRAM window 0x10000400 size 0x2000") {
		t.Errorf("configuration report incomplete: %v", log.Entries())
	}
	if n := log.Count(common.SeverityWarning) + log.Count(common.SeverityError); n != 0 {
		t.Errorf("reports logged %d lines above INFO", n)
	}
}

func TestRunHonoursContext(t *testing.T) {
	e, _, _ := newRig(t, nil, func(c *config.Config) { c.Mode = diag.ModeFlashOnly })
	e.Boot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if e.Cycle() != 0 {
		t.Errorf("cycles ran after cancel: %d", e.Cycle())
	}
}
