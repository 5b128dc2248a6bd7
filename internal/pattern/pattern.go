// Package pattern implements the memory test algorithms.
//
// Every routine writes and verifies a memory window and returns the number
// of mismatching reads. A mismatch is reported with its address, observed and
// expected values and testing carries on; no routine stops on the first
// failure. A return of 0 means the window is clean. Aggregating results and
// deciding what runs next is the caller's job.
package pattern

import (
	"fmt"

	"memdiag/common"
	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// Standard patterns.
const (
	Checkerboard1 uint32 = 0xAA55AA55
	Checkerboard2 uint32 = 0x55AA55AA

	AlternateOdd  uint32 = 0xAAAAAAAA
	AlternateEven uint32 = 0x55555555

	addressSalt uint32 = 0x1234567B
	addressMask uint32 = 0xF00F0FF0
)

// Mismatch describes one failed verification read.
type Mismatch struct {
	Test     diag.Algorithm
	Phase    string
	Addr     uint32
	Observed uint32
	Expected uint32
}

func (m Mismatch) String() string {
	name := m.Test.String()
	if m.Phase != "" {
		name += " (" + m.Phase + ")"
	}
	return fmt.Sprintf("%s Error: addr=0x%08X, read=0x%08X, expected=0x%08X", name, m.Addr, m.Observed, m.Expected)
}

// Reporter receives the events raised while a routine runs.
type Reporter interface {
	// Mismatch is called for every failed verification read.
	Mismatch(m Mismatch)

	// Collision is called when two addresses of a butterfly pair fold onto
	// the same word.
	Collision(test diag.Algorithm, pair int, addr uint32)

	// TransactionFailure is called when a flash erase or program operation
	// reports failure.
	TransactionFailure(op string, addr uint32, err error)
}

// LogReporter writes every event to a Logger and keeps running totals.
type LogReporter struct {
	Log common.Logger

	Mismatches uint32
	Collisions uint32
	Failures   uint32
}

// NewLogReporter creates a reporter that logs to l.
func NewLogReporter(l common.Logger) *LogReporter {
	if l == nil {
		l = common.NewNoOpLogger()
	}
	return &LogReporter{Log: l}
}

func (r *LogReporter) Mismatch(m Mismatch) {
	r.Mismatches++
	r.Log.Warning(m.String())
}

func (r *LogReporter) Collision(test diag.Algorithm, pair int, addr uint32) {
	r.Collisions++
	r.Log.Logf(common.SeverityDebug, "%s: pair %d folds onto a single word at 0x%08X, pair not tested", test, pair, addr)
}

func (r *LogReporter) TransactionFailure(op string, addr uint32, err error) {
	r.Failures++
	r.Log.Logf(common.SeverityError, "%s: %s failed at 0x%08X: %v", diag.AlgCache, op, addr, err)
}

// Discard is a Reporter that drops every event.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Mismatch(Mismatch)                        {}
func (discard) Collision(diag.Algorithm, int, uint32)    {}
func (discard) TransactionFailure(string, uint32, error) {}

func fill(w *memwin.Window, v uint32) {
	for i := uint32(0); i < w.Words(); i++ {
		w.Write(i, v)
	}
}

func verifyFill(w *memwin.Window, v uint32, test diag.Algorithm, phase string, rep Reporter) uint32 {
	var errors uint32
	for i := uint32(0); i < w.Words(); i++ {
		errors += verify(w, i, v, test, phase, rep)
	}
	return errors
}

func verify(w *memwin.Window, i uint32, expected uint32, test diag.Algorithm, phase string, rep Reporter) uint32 {
	got := w.Read(i)
	if got == expected {
		return 0
	}
	rep.Mismatch(Mismatch{Test: test, Phase: phase, Addr: w.Addr(i), Observed: got, Expected: expected})
	return 1
}
