// Package session runs the diagnostic engine on a simulated target across
// supervised restarts. Each boot builds a fresh engine over the same target,
// the way firmware starts again after the watchdog resets the device.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"memdiag/common"
	"memdiag/internal/config"
	"memdiag/internal/diag"
	"memdiag/internal/engine"
	"memdiag/internal/fault"
	"memdiag/internal/forensics"
	"memdiag/internal/sim"
	"memdiag/internal/status"
)

var (
	ErrRestartLimit = errors.New("session limit reached while the target kept resetting")
	ErrBadInjection = errors.New("invalid fault injection")
)

// Config controls a run.
type Config struct {
	Diag *config.Config

	// Cycles is the number of cycles per boot; 0 runs until the context is
	// done.
	Cycles uint32
	// Sessions is the maximum number of boots. Values below 1 mean 1.
	Sessions int
	// ClockRate is the simulated bus accesses per millisecond, 0 for the
	// default.
	ClockRate uint64

	Inject []Injection

	Out io.Writer
	// Log receives every engine message. May be nil.
	Log common.Logger
	// ProgressWidth enables a live progress line of that many columns.
	ProgressWidth int
	// TailLines is the number of log lines replayed after a crash.
	TailLines int
}

// Summary is the outcome of a run.
type Summary struct {
	Boots    []forensics.BootReport
	Cycles   uint32
	Errors   uint32
	Restarts int
	Status   []status.TestStatus
}

// Write prints the summary.
func (s *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "Boots %d, restarts %d, cycles %d, errors %d\n", len(s.Boots), s.Restarts, s.Cycles, s.Errors)
	for i, b := range s.Boots {
		fmt.Fprintf(w, "  boot %d: %s\n", i+1, b)
	}
	for _, st := range s.Status {
		fmt.Fprintf(w, "  %s\n", st)
	}
}

// Hardware returns the engine collaborators backed by tgt.
func Hardware(tgt *sim.Target) engine.Hardware {
	return engine.Hardware{
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

type runner struct {
	cfg Config
	out io.Writer
	rec *common.Recorder
	tgt *sim.Target

	shown bool
}

// Run builds the target, applies the injections and runs boots until one
// completes its cycles, ctx is cancelled or the session limit is reached.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	var sum Summary
	if cfg.Diag == nil {
		cfg.Diag = config.Default()
	}
	if err := cfg.Diag.Validate(); err != nil {
		return sum, err
	}
	if cfg.Sessions < 1 {
		cfg.Sessions = 1
	}
	r := &runner{cfg: cfg, out: cfg.Out}
	if r.out == nil {
		r.out = io.Discard
	}
	r.rec = common.NewRecorder(512, cfg.Log)

	var opts []sim.Option
	if cfg.ClockRate != 0 {
		opts = append(opts, sim.WithClockRate(cfg.ClockRate))
	}
	tgt, err := sim.New(cfg.Diag.Regions, opts...)
	if err != nil {
		return sum, err
	}
	r.tgt = tgt
	for _, inj := range cfg.Inject {
		inj.apply(tgt)
		r.rec.Logf(common.SeverityInfo, "Injected fault: %s", inj)
	}

	for n := 0; n < cfg.Sessions; n++ {
		eng, err := engine.New(cfg.Diag, Hardware(tgt), r.rec, engine.WithHalt(fault.PanicOnHalt))
		if err != nil {
			return sum, err
		}
		tgt.Connect(eng.Faults())

		var boot forensics.BootReport
		out := tgt.Supervise(func() error {
			boot = eng.Boot()
			return r.cycles(ctx, eng)
		})
		r.endProgress()

		sum.Boots = append(sum.Boots, boot)
		sum.Cycles += eng.Cycle()
		sum.Status = eng.StatusAll()
		for _, s := range sum.Status {
			sum.Errors += s.TotalErrors
		}

		if !out.Reset {
			if errors.Is(out.Err, context.Canceled) {
				return sum, nil
			}
			return sum, out.Err
		}

		fmt.Fprintf(r.out, "*** %s in cycle %d, last %d log lines:\n", out, eng.Cycle(), cfg.TailLines)
		r.rec.Tail(r.out, cfg.TailLines)
		// a trap halts the core for good; the next boot runs without it
		tgt.Bus.ClearTraps()
		sum.Restarts++
	}
	return sum, ErrRestartLimit
}

func (r *runner) cycles(ctx context.Context, eng *engine.Engine) error {
	for n := uint32(0); r.cfg.Cycles == 0 || n < r.cfg.Cycles; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := eng.RunCycle()
		if err != nil {
			return err
		}
		r.progress(eng, res)
	}
	return nil
}

func (r *runner) progress(eng *engine.Engine, res engine.CycleResult) {
	w := r.cfg.ProgressWidth
	if w <= 1 {
		return
	}
	line := fmt.Sprintf("cycle %d  steps %d  errors %d  ecc %d  t=%dms",
		res.Cycle, res.Steps, res.Errors, eng.Faults().ECCCount(), r.tgt.Clock.Millis())
	if len(line) > w-1 {
		line = line[:w-1]
	}
	fmt.Fprintf(r.out, "\r%-*s", w-1, line)
	r.shown = true
}

func (r *runner) endProgress() {
	if r.shown {
		fmt.Fprintln(r.out)
		r.shown = false
	}
}

// Injection is a fault applied to the target before the first boot.
type Injection struct {
	spec  string
	apply func(*sim.Target)
}

func (i Injection) String() string { return i.spec }

var trapNames = map[string]diag.TrapKind{
	"hard":  diag.TrapHard,
	"bus":   diag.TrapBus,
	"usage": diag.TrapUsage,
	"mem":   diag.TrapMemManage,
}

// ParseInjection parses a fault specification. Numbers use C notation.
//
//	stuck:ADDR:MASK:VALUE    bits of MASK at ADDR read as VALUE
//	short:LINE:START:END     address bits LINE tied low inside [START, END)
//	couple:AGGR:VICTIM:MASK  writes to AGGR flip MASK at VICTIM
//	trap:ADDR[:KIND]         access to ADDR raises a trap (hard, bus, usage, mem)
//	ecc:ADDR                 correctable ECC error on reads of ADDR
//	ecc2:ADDR                uncorrectable ECC error on reads of ADDR
//	erase-fail:N             next N page erases fail
//	program-fail:N           next N double word programs fail
//	stale-cache              erase does not flush the flash cache
func ParseInjection(spec string) (Injection, error) {
	fields := strings.Split(strings.TrimSpace(spec), ":")
	kind := strings.ToLower(fields[0])
	args := fields[1:]

	nums := func(lo, hi int) ([]uint32, error) {
		if len(args) < lo || len(args) > hi {
			return nil, fmt.Errorf("%w: %q needs %d..%d arguments", ErrBadInjection, spec, lo, hi)
		}
		out := make([]uint32, 0, len(args))
		for _, a := range args {
			v, err := strconv.ParseUint(a, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadInjection, spec, err)
			}
			out = append(out, uint32(v))
		}
		return out, nil
	}

	inj := Injection{spec: spec}
	switch kind {
	case "stuck":
		n, err := nums(3, 3)
		if err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) { t.Bus.InjectStuckBits(n[0], n[1], n[2]) }
	case "short":
		n, err := nums(3, 3)
		if err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) { t.Bus.InjectAddressShort(n[0], n[1], n[2]) }
	case "couple":
		n, err := nums(3, 3)
		if err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) {
			t.Bus.InjectCoupling(sim.Coupling{Aggressor: n[0], Victim: n[1], Mask: n[2]})
		}
	case "trap":
		trap := diag.TrapBus
		if len(args) == 2 {
			k, ok := trapNames[strings.ToLower(args[1])]
			if !ok {
				return inj, fmt.Errorf("%w: unknown trap kind %q", ErrBadInjection, args[1])
			}
			trap = k
			args = args[:1]
		}
		n, err := nums(1, 1)
		if err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) { t.Bus.InjectBusFault(n[0], trap) }
	case "ecc", "ecc2":
		n, err := nums(1, 1)
		if err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) { t.Flash.InjectECC(n[0], kind == "ecc2") }
	case "erase-fail", "program-fail":
		n, err := nums(1, 1)
		if err != nil {
			return inj, err
		}
		if kind == "erase-fail" {
			inj.apply = func(t *sim.Target) { t.Flash.FailErase(int(n[0])) }
		} else {
			inj.apply = func(t *sim.Target) { t.Flash.FailProgram(int(n[0])) }
		}
	case "stale-cache":
		if _, err := nums(0, 0); err != nil {
			return inj, err
		}
		inj.apply = func(t *sim.Target) { t.Flash.SetStaleCache(true) }
	default:
		return inj, fmt.Errorf("%w: unknown kind %q", ErrBadInjection, kind)
	}
	return inj, nil
}
