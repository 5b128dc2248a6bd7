package sim

import "fmt"

// DefaultAccessesPerMs is the number of bus accesses the simulated core
// performs per millisecond.
const DefaultAccessesPerMs = 4096

// Clock is the simulated millisecond tick. Time advances with bus traffic
// and with explicit Advance calls.
type Clock struct {
	perMs    uint64
	accesses uint64
	ms       uint64
	wdg      *Watchdog
}

// NewClock creates a clock advancing one millisecond every perMs accesses.
func NewClock(perMs uint64) *Clock {
	if perMs == 0 {
		perMs = DefaultAccessesPerMs
	}
	return &Clock{perMs: perMs}
}

// Millis returns the tick count, wrapping like a 32-bit tick counter.
func (c *Clock) Millis() uint32 { return uint32(c.ms) }

// Advance moves the clock forward by ms milliseconds.
func (c *Clock) Advance(ms uint32) {
	for i := uint32(0); i < ms; i++ {
		c.ms++
		c.wdg.check(c.ms)
	}
}

func (c *Clock) tick() {
	c.accesses++
	if c.accesses%c.perMs == 0 {
		c.ms++
		c.wdg.check(c.ms)
	}
}

// WatchdogBite is the panic value raised when the watchdog expires.
type WatchdogBite struct {
	AtMs uint32
}

func (w WatchdogBite) Error() string { return fmt.Sprintf("independent watchdog expired at %d ms", w.AtMs) }

// Watchdog models the independent watchdog. Once started it can only be
// stopped by a reset.
type Watchdog struct {
	running   bool
	timeoutMs uint64
	deadline  uint64
	clock     *Clock
	refreshes uint64
}

func newWatchdog(c *Clock) *Watchdog {
	w := &Watchdog{clock: c}
	c.wdg = w
	return w
}

// Start enables the watchdog with the given timeout.
func (w *Watchdog) Start(timeoutMs uint32) {
	w.running = true
	w.timeoutMs = uint64(timeoutMs)
	w.deadline = w.clock.ms + w.timeoutMs
}

// Refresh reloads the countdown.
func (w *Watchdog) Refresh() {
	w.refreshes++
	if w.running {
		w.deadline = w.clock.ms + w.timeoutMs
	}
}

// Running returns true once Start has been called since the last reset.
func (w *Watchdog) Running() bool { return w.running }

// Refreshes returns the number of Refresh calls since the last reset.
func (w *Watchdog) Refreshes() uint64 { return w.refreshes }

func (w *Watchdog) check(now uint64) {
	if w == nil || !w.running || now < w.deadline {
		return
	}
	w.running = false
	panic(WatchdogBite{AtMs: uint32(now)})
}

func (w *Watchdog) reset() {
	w.running = false
	w.refreshes = 0
}
