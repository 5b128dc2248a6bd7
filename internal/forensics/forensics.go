// Package forensics persists the in-flight operation state into registers
// that survive a reset, and explains the previous reset at boot.
//
// The record is three 32-bit slots: the packed operation tag, the cycle
// counter and the last error code. A fourth slot counts watchdog resets over
// the device lifetime. Each slot is written as a single word so a fault
// handler preempting a write never observes a torn value.
package forensics

import (
	"fmt"
	"sync"
	"sync/atomic"

	"memdiag/common"
	icommon "memdiag/internal/common"
	"memdiag/internal/diag"
)

// Backup register slots.
const (
	SlotOperation  = 0
	SlotCycle      = 1
	SlotError      = 2
	SlotResetCount = 3

	NumSlots = 4
)

// MaxOperationName bounds the human readable operation name.
const MaxOperationName = 63

// BackupRegisters is a register store that keeps its contents across a
// reset. It needs at least NumSlots slots.
type BackupRegisters interface {
	ReadBackup(slot int) uint32
	WriteBackup(slot int, v uint32)
}

// ResetStatus is the hardware reset cause register.
type ResetStatus interface {
	ResetFlags() uint32
	ClearResetFlags()
}

// Store writes the forensics record.
type Store struct {
	regs  BackupRegisters
	log   common.Logger
	cycle atomic.Uint32

	mu   sync.Mutex
	name string
}

// NewStore creates a store over regs. Notifications go to log.
func NewStore(regs BackupRegisters, log common.Logger) *Store {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Store{regs: regs, log: log}
}

// SetCycle sets the cycle counter persisted by the next Record.
func (s *Store) SetCycle(c uint32) { s.cycle.Store(c) }

// Cycle returns the current cycle counter.
func (s *Store) Cycle() uint32 { return s.cycle.Load() }

// Record persists op, the current cycle and code. It is called before every
// operation that could take the device down and by the fault handlers. A code
// other than ErrNone is also logged.
func (s *Store) Record(op diag.OpTag, code diag.Err) {
	cycle := s.cycle.Load()
	s.regs.WriteBackup(SlotOperation, uint32(op))
	s.regs.WriteBackup(SlotCycle, cycle)
	s.regs.WriteBackup(SlotError, uint32(code))

	if code != diag.ErrNone {
		s.log.Error(icommon.NewErrorWithOp(icommon.ErrSevError, code, cycle, op, "forensics recorded"))
	}
}

// UpdateOperation names the operation about to run and records its tag
// with no error.
func (s *Store) UpdateOperation(name string) diag.OpTag {
	tag := diag.MakeTag(name)
	s.Begin(name, tag)
	return tag
}

// Begin names the operation about to run and records tag with no error.
// Use it when the tag is not derived from the name.
func (s *Store) Begin(name string, tag diag.OpTag) {
	if len(name) > MaxOperationName {
		name = name[:MaxOperationName]
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.Record(tag, diag.ErrNone)
}

// Operation returns the name of the operation in flight.
func (s *Store) Operation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// LastOp returns the persisted operation tag.
func (s *Store) LastOp() diag.OpTag {
	return diag.OpTag(s.regs.ReadBackup(SlotOperation))
}

// ResetCount returns the persisted watchdog reset tally.
func (s *Store) ResetCount() uint32 {
	return s.regs.ReadBackup(SlotResetCount)
}

// BootReport explains the previous reset.
type BootReport struct {
	Cause    diag.ResetCause
	RawFlags uint32

	// Valid is true when the record below describes the operation that was
	// running when the watchdog fired.
	Valid      bool
	LastOp     diag.OpTag
	LastCycle  uint32
	LastError  diag.Err
	ResetCount uint32
}

func (r BootReport) String() string {
	switch r.Cause {
	case diag.ResetWatchdog:
		return fmt.Sprintf("Watchdog reset detected! Last operation: %s, cycle %d, error 0x%02X (%s), watchdog resets %d",
			r.LastOp, r.LastCycle, uint32(r.LastError), icommon.CodeName(r.LastError), r.ResetCount)
	case diag.ResetPin, diag.ResetPowerOn:
		return fmt.Sprintf("%s reset, forensics cleared, watchdog resets %d", r.Cause, r.ResetCount)
	default:
		return fmt.Sprintf("Reset cause: 0x%08X", r.RawFlags)
	}
}

// ClassifyBoot reads the reset cause once and acts on it:
//
//   - watchdog: the record is read back, the tally is incremented, and the
//     record then cleared.
//   - pin or power-on: the record is cleared and the tally kept.
//   - anything else: the raw flags are reported and the record left alone.
//
// The reset flags are cleared in every case. ClassifyBoot must run before
// the first test operation of a session.
func (s *Store) ClassifyBoot(rs ResetStatus) BootReport {
	flags := rs.ResetFlags()
	rep := BootReport{Cause: diag.ClassifyReset(flags), RawFlags: flags}

	switch rep.Cause {
	case diag.ResetWatchdog:
		rep.Valid = true
		rep.LastOp = diag.OpTag(s.regs.ReadBackup(SlotOperation))
		rep.LastCycle = s.regs.ReadBackup(SlotCycle)
		rep.LastError = diag.Err(s.regs.ReadBackup(SlotError))
		rep.ResetCount = s.regs.ReadBackup(SlotResetCount) + 1
		s.regs.WriteBackup(SlotResetCount, rep.ResetCount)
		s.clear()
		s.log.Warning(rep.String())
	case diag.ResetPin, diag.ResetPowerOn:
		s.clear()
		rep.ResetCount = s.regs.ReadBackup(SlotResetCount)
		s.log.Info(rep.String())
	default:
		rep.ResetCount = s.regs.ReadBackup(SlotResetCount)
		s.log.Info(rep.String())
	}

	rs.ClearResetFlags()
	return rep
}

func (s *Store) clear() {
	s.regs.WriteBackup(SlotOperation, 0)
	s.regs.WriteBackup(SlotCycle, 0)
	s.regs.WriteBackup(SlotError, 0)
}
