// Package engine drives the memory diagnostics. An Engine owns the region
// windows, the status counters, the forensics store and the fault handlers
// of one target, and interprets a declarative test plan once per cycle.
//
// Single writer rules: pattern routines only touch memory, the engine alone
// writes the status counters, and only the region manager moves windows.
// Interrupt handlers communicate through the fault event queue, which is
// drained before every operation.
package engine

import (
	"context"
	"errors"
	"fmt"

	"memdiag/common"
	"memdiag/internal/config"
	"memdiag/internal/diag"
	"memdiag/internal/fault"
	"memdiag/internal/forensics"
	"memdiag/internal/memwin"
	"memdiag/internal/pattern"
	"memdiag/internal/region"
	"memdiag/internal/status"
)

var (
	ErrNotBooted = errors.New("engine not booted: boot cause must be classified before testing")
	ErrNoRegion  = errors.New("plan step names a region with no window")
)

// Clock is a monotonic millisecond tick.
type Clock interface {
	Millis() uint32
}

// Watchdog is the independent watchdog.
type Watchdog interface {
	Start(timeoutMs uint32)
	Refresh()
}

// Hardware is the set of target collaborators.
type Hardware struct {
	Memory      memwin.Memory
	Flash       pattern.FlashController
	Cache       pattern.Cache
	FlashStatus fault.FlashStatus
	Backup      forensics.BackupRegisters
	Reset       forensics.ResetStatus
	Watchdog    Watchdog
	Clock       Clock
}

// CycleResult summarises one cycle.
type CycleResult struct {
	Cycle  uint32
	Steps  int
	Errors uint32
	Events []fault.Event
}

// Engine is the diagnostic engine context.
type Engine struct {
	cfg *config.Config
	hw  Hardware
	log common.Logger

	regions  *region.Manager
	status   *status.Aggregator
	store    *forensics.Store
	faults   *fault.Handler
	reporter Reporter
	mismatch *pattern.LogReporter

	plan       Plan
	cycle      uint32
	booted     bool
	boot       forensics.BootReport
	lastReport uint32
	events     []fault.Event
	// last window per region whose butterfly pairs folded, warned once
	folded map[diag.RegionID]foldedWindow
}

type foldedWindow struct {
	start, size uint32
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	reporter Reporter
	faultOps []fault.Option
	plan     Plan
}

// WithReporter sets the status and configuration report sink.
func WithReporter(r Reporter) Option {
	return func(o *engineOptions) { o.reporter = r }
}

// WithHalt replaces the terminal spin of a CPU fault trap.
func WithHalt(halt func(diag.TrapKind)) Option {
	return func(o *engineOptions) { o.faultOps = append(o.faultOps, fault.WithHalt(halt)) }
}

// WithPlan replaces the plan of the configured mode.
func WithPlan(p Plan) Option {
	return func(o *engineOptions) { o.plan = p }
}

// New validates cfg and builds an engine over hw.
func New(cfg *config.Config, hw Hardware, log common.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hw.Memory == nil || hw.Backup == nil || hw.Reset == nil || hw.FlashStatus == nil {
		return nil, errors.New("engine: memory, backup registers, reset status and flash status are required")
	}
	if log == nil {
		log = common.NewNoOpLogger()
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.reporter == nil {
		o.reporter = NewLogReporter(log)
	}

	backings := make([]region.Backing, 0, len(cfg.Regions))
	for _, l := range cfg.Regions {
		backings = append(backings, region.Backing{Layout: l, Mem: hw.Memory})
	}
	regions, err := region.NewManager(backings,
		region.WithOffsetRotation(cfg.RotateOffsets),
		region.WithSizeRotation(cfg.RotateSizes),
		region.WithTierPeriod(cfg.SizeTierPeriod))
	if err != nil {
		return nil, err
	}

	store := forensics.NewStore(hw.Backup, log)
	e := &Engine{
		cfg:      cfg,
		hw:       hw,
		log:      log,
		regions:  regions,
		status:   status.NewAggregator(),
		store:    store,
		faults:   fault.NewHandler(store, hw.FlashStatus, log, o.faultOps...),
		reporter: o.reporter,
		mismatch: pattern.NewLogReporter(log),
		plan:     o.plan,
		folded:   make(map[diag.RegionID]foldedWindow),
	}
	if e.plan == nil {
		e.plan = PlanFor(cfg.Mode, cfg)
	}
	return e, nil
}

// Faults returns the fault handlers, to be connected to the interrupt lines.
func (e *Engine) Faults() *fault.Handler { return e.faults }

// Forensics returns the forensics store.
func (e *Engine) Forensics() *forensics.Store { return e.store }

// Regions returns the region manager.
func (e *Engine) Regions() *region.Manager { return e.regions }

// Status returns a snapshot of the counters of region r.
func (e *Engine) Status(r diag.RegionID) status.TestStatus { return e.status.Snapshot(r) }

// StatusAll returns a snapshot of every counter block.
func (e *Engine) StatusAll() []status.TestStatus { return e.status.All() }

// Cycle returns the number of the last cycle started.
func (e *Engine) Cycle() uint32 { return e.cycle }

// Plan returns the plan in use.
func (e *Engine) Plan() Plan { return e.plan }

// BootReport returns the report produced by Boot.
func (e *Engine) BootReport() forensics.BootReport { return e.boot }

// SetMode switches to the plan of mode from the next cycle on.
func (e *Engine) SetMode(m diag.Mode) {
	e.cfg.Mode = m
	e.plan = PlanFor(m, e.cfg)
	e.log.Logf(common.SeverityInfo, "Test mode: %s", m)
}

// Reinitialize zeroes the status counters and the ECC count.
func (e *Engine) Reinitialize() {
	e.status.Reset()
	e.faults.ResetECCCount()
}

// Boot classifies the previous reset, starts the watchdog and enables
// testing. It must be called once before the first cycle.
func (e *Engine) Boot() forensics.BootReport {
	e.boot = e.store.ClassifyBoot(e.hw.Reset)
	if e.hw.Watchdog != nil {
		e.hw.Watchdog.Start(e.cfg.WatchdogTimeoutMs)
	}
	if e.hw.Clock != nil {
		e.lastReport = e.hw.Clock.Millis()
	}
	e.booted = true
	e.reporter.Boot(e.boot)
	return e.boot
}

// Run executes cycles until ctx is done or, when cycles is non-zero, that
// many cycles have run.
func (e *Engine) Run(ctx context.Context, cycles uint32) error {
	for n := uint32(0); cycles == 0 || n < cycles; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.RunCycle(); err != nil {
			return err
		}
	}
	return nil
}

// RunCycle rotates the windows and runs every due plan step once.
func (e *Engine) RunCycle() (CycleResult, error) {
	if !e.booted {
		return CycleResult{}, ErrNotBooted
	}

	e.cycle++
	e.store.SetCycle(e.cycle)
	e.regions.Rotate(e.cycle)

	before := e.status.TotalErrors()
	res := CycleResult{Cycle: e.cycle}
	e.events = nil

	for _, step := range e.plan {
		if !step.Due(e.cycle) {
			continue
		}
		n := step.Repeat
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			if err := e.runStep(step); err != nil {
				return res, err
			}
			res.Steps++
		}
	}

	e.drain()
	e.status.SetECCErrors(diag.RegionFlash, e.faults.ECCCount())
	e.refresh()
	e.store.Begin("Idle", diag.OpNone)

	res.Errors = e.status.TotalErrors() - before
	res.Events = e.events
	e.report()
	return res, nil
}

func (e *Engine) refresh() {
	if e.hw.Watchdog != nil {
		e.hw.Watchdog.Refresh()
	}
}

func (e *Engine) drain() {
	for _, ev := range e.faults.Drain() {
		sev := common.SeverityWarning
		if ev.Kind == fault.EventECCUncorrected {
			sev = common.SeverityError
		}
		e.log.Log(sev, ev.String())
		e.events = append(e.events, ev)
	}
}

func (e *Engine) window(step Step) (*memwin.Window, region.Info, error) {
	info, err := e.regions.Info(step.Region)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s", ErrNoRegion, step.Name())
	}
	w, err := e.regions.Resolve(step.Region)
	if err != nil {
		return nil, info, err
	}
	return w.Fraction(step.Fraction), info, nil
}

func (e *Engine) runStep(step Step) error {
	e.drain()
	e.store.Begin(step.Name(), step.Tag())

	if step.Algorithm == diag.AlgCache {
		e.runCache(step)
		e.refresh()
		return nil
	}

	w, info, err := e.window(step)
	if err != nil {
		return err
	}

	var errs uint32
	switch step.Algorithm {
	case diag.AlgAddress:
		errs = pattern.Address(w, e.cycle, e.cfg.AddressStride, e.mismatch)
	case diag.AlgButterfly:
		before := e.mismatch.Collisions
		errs = pattern.EnhancedButterfly(w, info.Base, info.Size, e.cycle, e.cfg.ButterflyPairs, e.mismatch)
		e.skipped(step.Region, w, e.mismatch.Collisions-before)
	case diag.AlgCheckerboard:
		errs = pattern.Checkerboard(w, step.Pattern, e.mismatch)
	case diag.AlgMarchC:
		errs = pattern.MarchC(w, e.cfg.MarchBackground, e.mismatch)
	case diag.AlgGalpat:
		errs = pattern.Galpat(w.Limit(e.cfg.GalpatMaxBytes), e.cfg.MarchBackground, e.mismatch)
	case diag.AlgWalking:
		errs = pattern.WalkingOnes(w, e.mismatch) + pattern.WalkingZeros(w, e.mismatch)
	case diag.AlgModifiedCheckerboard:
		errs = pattern.ModifiedCheckerboard(w, e.mismatch)
	default:
		return fmt.Errorf("plan step %s: unsupported algorithm", step.Name())
	}

	e.status.RecordResult(step.Region, step.Algorithm, errs)
	if errs != 0 {
		code := diag.ErrSRAMRead
		if step.Region == diag.RegionFlash {
			code = diag.ErrFlashRead
		}
		e.store.Record(step.Tag(), code)
	}
	e.refresh()
	return nil
}

// skipped counts butterfly pairs that folded onto one word. The warning is
// logged once per window placement.
func (e *Engine) skipped(r diag.RegionID, w *memwin.Window, n uint32) {
	if n == 0 {
		return
	}
	e.status.RecordSkipped(r, n)
	fw := foldedWindow{start: w.Start(), size: w.Size()}
	if last, ok := e.folded[r]; ok && last == fw {
		return
	}
	e.folded[r] = fw
	e.log.Logf(common.SeverityWarning, "%s: %d butterfly pairs fold onto one word in window 0x%08X+0x%X, skipped", r, n, fw.start, fw.size)
}

func (e *Engine) runCache(step Step) {
	if e.hw.Flash == nil || e.hw.Cache == nil {
		return
	}
	fl := e.cfg.Region(diag.RegionFlash)
	if fl == nil {
		return
	}

	res, err := pattern.CacheTest(e.hw.Memory, e.hw.Flash, e.hw.Cache, fl.Base+e.cfg.CacheTestOffset, e.cycle, e.mismatch)
	switch {
	case err != nil:
		e.log.Logf(common.SeverityError, "%s: %v", step.Name(), err)
		e.status.RecordTransactionFailure(diag.RegionCache, diag.AlgCache)
		e.store.Record(step.Tag(), diag.ErrFlashWrite)
	case res.TransactionFailed:
		e.status.RecordTransactionFailure(diag.RegionCache, diag.AlgCache)
		e.store.Record(step.Tag(), diag.ErrFlashWrite)
	default:
		e.status.RecordResult(diag.RegionCache, diag.AlgCache, res.Errors)
		if res.Errors != 0 {
			e.store.Record(step.Tag(), diag.ErrCacheInvalid)
		}
	}
}

func (e *Engine) report() {
	if e.cfg.ConfigReportInterval != 0 && e.cycle%e.cfg.ConfigReportInterval == 0 {
		e.reporter.Config(e.cycle, e.cfg, e.regions.Regions())
	}
	if e.hw.Clock == nil {
		return
	}
	now := e.hw.Clock.Millis()
	if now-e.lastReport >= e.cfg.ReportIntervalMs {
		e.lastReport = now
		e.reporter.Status(e.cycle, e.status.All())
	}
}
