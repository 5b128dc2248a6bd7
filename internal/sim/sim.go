// Package sim is a simulated STM32G473 target. It provides every hardware
// collaborator the engine needs: memory banks behind a system bus, the flash
// controller and read cache, the backup domain, the reset controller, the
// independent watchdog and a millisecond tick. Faults can be injected into
// each of them.
//
// The target is driven from one goroutine. Interrupts run synchronously on
// the accessing goroutine, which is how they preempt foreground code at an
// instruction boundary.
package sim

import (
	"errors"
	"fmt"

	"memdiag/internal/diag"
	"memdiag/internal/fault"
	"memdiag/internal/region"
)

// Target is the simulated device.
type Target struct {
	Bus    *Bus
	Flash  *Flash
	Banks  map[diag.RegionID]*Bank
	Backup *BackupDomain
	RCC    *ResetController
	IWDG   *Watchdog
	Clock  *Clock

	resets int
}

// Option configures a Target.
type Option func(*Target)

// WithClockRate sets the number of bus accesses per simulated millisecond.
func WithClockRate(accessesPerMs uint64) Option {
	return func(t *Target) {
		t.Clock.perMs = accessesPerMs
	}
}

// New builds a target with one bank per layout. The flash layout becomes the
// flash array; every other region becomes SRAM. The target starts as after a
// power-on reset.
func New(layouts []region.Layout, opts ...Option) (*Target, error) {
	clock := NewClock(DefaultAccessesPerMs)
	t := &Target{
		Bus:    NewBus(clock),
		Banks:  make(map[diag.RegionID]*Bank),
		Backup: &BackupDomain{},
		RCC:    &ResetController{},
		IWDG:   newWatchdog(clock),
		Clock:  clock,
	}
	for _, o := range opts {
		o(t)
	}

	for _, l := range layouts {
		if l.ID == diag.RegionFlash {
			if t.Flash != nil {
				return nil, errors.New("flash defined twice")
			}
			t.Flash = newFlash(l.Base, l.Size)
			if err := t.Bus.AddDevice(t.Flash); err != nil {
				return nil, err
			}
			continue
		}
		b := NewBank(l.ID.String(), l.Base, l.Size)
		if err := t.Bus.AddDevice(b); err != nil {
			return nil, fmt.Errorf("%s: %w", l.ID, err)
		}
		t.Banks[l.ID] = b
	}
	if t.Flash == nil {
		return nil, errors.New("no flash region")
	}

	t.RCC.latch(diag.RstBOR | diag.RstPin)
	return t, nil
}

// Load32 implements memwin.Memory over the bus.
func (t *Target) Load32(addr uint32) uint32 { return t.Bus.Load32(addr) }

// Store32 implements memwin.Memory over the bus.
func (t *Target) Store32(addr uint32, v uint32) { t.Bus.Store32(addr, v) }

// Connect wires the fault handlers to the target's interrupt lines.
func (t *Target) Connect(h *fault.Handler) {
	t.Flash.SetIRQ(h.FlashIRQ)
	t.Bus.SetTrap(h.Trap)
}

// Reset performs a system reset latching flags as the cause. Memory and the
// backup domain survive; peripherals return to their reset state.
func (t *Target) Reset(flags uint32) {
	t.resets++
	t.Flash.reset()
	t.IWDG.reset()
	t.RCC.latch(flags)
}

// PowerCycle removes power: the backup domain is lost and the reset is
// latched as power-on.
func (t *Target) PowerCycle() {
	t.Backup.powerOff()
	t.RCC.ClearResetFlags()
	t.Reset(diag.RstBOR | diag.RstPin)
}

// Resets returns the number of resets since the target was built.
func (t *Target) Resets() int { return t.resets }

// Outcome is how a supervised run ended.
type Outcome struct {
	// Reset is true when the run ended in a watchdog reset.
	Reset bool
	// Trap is set when the reset followed a fatal CPU trap.
	Trap *diag.TrapKind
	Err  error
}

func (o Outcome) String() string {
	switch {
	case o.Trap != nil:
		return fmt.Sprintf("watchdog reset after %s", *o.Trap)
	case o.Reset:
		return "watchdog reset"
	case o.Err != nil:
		return o.Err.Error()
	default:
		return "completed"
	}
}

// Supervise runs fn the way the device runs firmware. A fatal trap halt or a
// watchdog expiry inside fn is turned into a watchdog reset of the target,
// which the next boot classifies. Trap handlers must halt with
// fault.PanicOnHalt. Any other panic is passed on.
func (t *Target) Supervise(fn func() error) (out Outcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case fault.Halted:
			kind := v.Kind
			out = Outcome{Reset: true, Trap: &kind}
		case WatchdogBite:
			out = Outcome{Reset: true}
		default:
			panic(r)
		}
		t.Reset(diag.RstIWDG | diag.RstPin)
	}()
	return Outcome{Err: fn()}
}
