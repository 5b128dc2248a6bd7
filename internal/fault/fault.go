// Package fault implements the flash interrupt and CPU fault trap handlers.
//
// The flash interrupt is non-fatal. It counts ECC events, clears the
// hardware flags, persists forensics and queues an Event for the foreground
// loop, which drains the queue before starting its next operation. CPU traps
// are terminal: after recording forensics they never return, leaving the
// independent watchdog to reset the device.
package fault

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"memdiag/common"
	"memdiag/internal/diag"
	"memdiag/internal/forensics"
)

// Flash ECC register flags.
const (
	ECCAddrMask uint32 = 0x0007FFFF
	ECCC        uint32 = 1 << 30 // correctable
	ECCD        uint32 = 1 << 31 // uncorrectable

	ECCFlags = ECCC | ECCD
)

// Flash status register error flags.
const (
	FlashOPERR   uint32 = 1 << 1
	FlashPROGERR uint32 = 1 << 3
	FlashWRPERR  uint32 = 1 << 4
	FlashPGAERR  uint32 = 1 << 5
	FlashSIZERR  uint32 = 1 << 6
	FlashPGSERR  uint32 = 1 << 7
	FlashMISERR  uint32 = 1 << 8
	FlashFASTERR uint32 = 1 << 9

	FlashErrors = FlashOPERR | FlashPROGERR | FlashWRPERR | FlashPGAERR |
		FlashSIZERR | FlashPGSERR | FlashMISERR | FlashFASTERR
)

// DefaultQueueDepth is the number of events buffered between interrupt and
// foreground.
const DefaultQueueDepth = 16

// FlashStatus is the flash controller's status interface.
type FlashStatus interface {
	ECCStatus() uint32
	ClearECC(flags uint32)
	Status() uint32
	ClearStatus(flags uint32)
}

// EventKind classifies a queued interrupt event.
type EventKind int

const (
	EventECCCorrected EventKind = iota
	EventECCUncorrected
	EventFlashError
)

func (k EventKind) String() string {
	switch k {
	case EventECCCorrected:
		return "ECC corrected"
	case EventECCUncorrected:
		return "ECC uncorrectable"
	case EventFlashError:
		return "flash error"
	default:
		return "unknown event"
	}
}

// Event is one flash interrupt, as seen by the foreground.
type Event struct {
	Kind  EventKind
	Flags uint32
	Addr  uint32 // ECC failing address offset
	Op    diag.OpTag
	Cycle uint32
}

func (e Event) String() string {
	if e.Kind == EventFlashError {
		return fmt.Sprintf("Flash Error Detected: SR=0x%08X during %s, cycle %d", e.Flags, e.Op, e.Cycle)
	}
	return fmt.Sprintf("%s at flash offset 0x%05X during %s, cycle %d", e.Kind, e.Addr, e.Op, e.Cycle)
}

// Halted is the panic value of PanicOnHalt.
type Halted struct {
	Kind diag.TrapKind
}

func (h Halted) Error() string { return fmt.Sprintf("cpu halted after %s", h.Kind) }

// Spin is the default halt: it never returns.
func Spin(diag.TrapKind) {
	for {
	}
}

// PanicOnHalt unwinds the trapping goroutine with a Halted value. It stands
// in for the spin on simulated targets, where a supervisor recovers the panic
// and plays the watchdog reset.
func PanicOnHalt(kind diag.TrapKind) {
	panic(Halted{Kind: kind})
}

// Handler holds the interrupt state shared with the foreground.
type Handler struct {
	store *forensics.Store
	flash FlashStatus
	log   common.Logger
	halt  func(diag.TrapKind)

	ecc     atomic.Uint32
	dropped atomic.Uint32
	events  chan Event
}

// Option configures a Handler.
type Option func(*Handler)

// WithHalt replaces the terminal spin of Trap.
func WithHalt(halt func(diag.TrapKind)) Option {
	return func(h *Handler) { h.halt = halt }
}

// WithQueueDepth sets the event buffer size.
func WithQueueDepth(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.events = make(chan Event, n)
		}
	}
}

// NewHandler creates the handler set.
func NewHandler(store *forensics.Store, flash FlashStatus, log common.Logger, opts ...Option) *Handler {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	h := &Handler{
		store:  store,
		flash:  flash,
		log:    log,
		halt:   Spin,
		events: make(chan Event, DefaultQueueDepth),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// FlashIRQ services the flash interrupt. Each latched ECC flag increments
// the ECC count; the flags are cleared and persisted with ErrECCDetected. Operation error flags
// are cleared and queued without touching the ECC count. It returns to the
// interrupted code.
func (h *Handler) FlashIRQ() {
	op := h.store.LastOp()
	cycle := h.store.Cycle()

	if eccr := h.flash.ECCStatus(); eccr&ECCFlags != 0 {
		h.ecc.Add(uint32(bits.OnesCount32(eccr & ECCFlags)))
		h.flash.ClearECC(eccr & ECCFlags)
		h.store.Record(op, diag.ErrECCDetected)

		kind := EventECCCorrected
		if eccr&ECCD != 0 {
			kind = EventECCUncorrected
		}
		h.post(Event{Kind: kind, Flags: eccr & ECCFlags, Addr: eccr & ECCAddrMask, Op: op, Cycle: cycle})
	}

	if sr := h.flash.Status() & FlashErrors; sr != 0 {
		h.flash.ClearStatus(sr)
		h.post(Event{Kind: EventFlashError, Flags: sr, Op: op, Cycle: cycle})
	}
}

func (h *Handler) post(e Event) {
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

// Trap handles a CPU fault. The fatal code is recorded against the last
// persisted operation, a message is logged and the CPU is halted. Trap never
// returns.
func (h *Handler) Trap(kind diag.TrapKind) {
	op := h.store.LastOp()
	h.store.Record(op, kind.Code())
	h.log.Logf(common.SeverityError, "%s DETECTED during %s, cycle %d! System halted.", kind, op, h.store.Cycle())

	h.halt(kind)
	for {
	}
}

// Events returns the receive side of the event queue.
func (h *Handler) Events() <-chan Event { return h.events }

// Drain removes every queued event without blocking. Events that could not
// be queued since the last drain are reported through the logger.
func (h *Handler) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			if n := h.dropped.Swap(0); n != 0 {
				h.log.Logf(common.SeverityWarning, "%d flash interrupt events lost, queue full", n)
			}
			return out
		}
	}
}

// ECCCount returns the number of ECC interrupts since the last reset of the
// count.
func (h *Handler) ECCCount() uint32 { return h.ecc.Load() }

// ResetECCCount zeroes the ECC count.
func (h *Handler) ResetECCCount() { h.ecc.Store(0) }

// Dropped returns the number of events lost since the last Drain.
func (h *Handler) Dropped() uint32 { return h.dropped.Load() }
