// Package status keeps the per-region test counters.
package status

import (
	"fmt"
	"strings"

	"memdiag/internal/diag"
)

// Counter holds the attempts and successes of one algorithm family.
type Counter struct {
	Attempts  uint32
	Successes uint32
}

// Failures returns the number of attempts that found errors.
func (c Counter) Failures() uint32 { return c.Attempts - c.Successes }

// TestStatus is the counter block of one region or of the cache path.
// Counters only grow until the aggregator is reset.
type TestStatus struct {
	Region              diag.RegionID
	Families            [diag.NumFamilies]Counter
	ECCErrors           uint32
	TransactionFailures uint32
	TotalErrors         uint32

	// SkippedPairs counts butterfly pairs that folded onto a single word
	// and were left untested.
	SkippedPairs uint32
}

// Attempts returns the attempts summed over all families.
func (s TestStatus) Attempts() uint32 {
	var n uint32
	for _, c := range s.Families {
		n += c.Attempts
	}
	return n
}

// Successes returns the successes summed over all families.
func (s TestStatus) Successes() uint32 {
	var n uint32
	for _, c := range s.Families {
		n += c.Successes
	}
	return n
}

// SuccessRate returns successes as a percentage of attempts, 100 when
// nothing has run.
func (s TestStatus) SuccessRate() float64 {
	a := s.Attempts()
	if a == 0 {
		return 100
	}
	return float64(s.Successes()) * 100 / float64(a)
}

func (s TestStatus) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: errors=%d ecc=%d txfail=%d", s.Region, s.TotalErrors, s.ECCErrors, s.TransactionFailures)
	for f, c := range s.Families {
		if c.Attempts == 0 {
			continue
		}
		fmt.Fprintf(&sb, " %s=%d/%d", diag.Family(f), c.Successes, c.Attempts)
	}
	if s.SkippedPairs != 0 {
		fmt.Fprintf(&sb, " skipped=%d", s.SkippedPairs)
	}
	return sb.String()
}

// Aggregator holds one TestStatus per region.
type Aggregator struct {
	blocks [diag.NumRegions]TestStatus
}

// NewAggregator creates zeroed counters for every region.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset()
	return a
}

// RecordResult counts one run of alg over region r that returned errors.
func (a *Aggregator) RecordResult(r diag.RegionID, alg diag.Algorithm, errors uint32) {
	s := a.block(r)
	if s == nil {
		return
	}
	c := &s.Families[alg.Family()]
	c.Attempts++
	if errors == 0 {
		c.Successes++
	}
	s.TotalErrors += errors
}

// RecordTransactionFailure counts a run of alg over region r that was cut
// short by a failed erase or program. It is an unsuccessful attempt but adds
// no data errors.
func (a *Aggregator) RecordTransactionFailure(r diag.RegionID, alg diag.Algorithm) {
	s := a.block(r)
	if s == nil {
		return
	}
	s.Families[alg.Family()].Attempts++
	s.TransactionFailures++
}

// RecordSkipped counts n butterfly pairs on region r that could not be
// tested.
func (a *Aggregator) RecordSkipped(r diag.RegionID, n uint32) {
	if s := a.block(r); s != nil {
		s.SkippedPairs += n
	}
}

// SetECCErrors publishes the running ECC count on region r.
func (a *Aggregator) SetECCErrors(r diag.RegionID, n uint32) {
	if s := a.block(r); s != nil {
		s.ECCErrors = n
	}
}

// Snapshot returns a copy of the counters of region r.
func (a *Aggregator) Snapshot(r diag.RegionID) TestStatus {
	if s := a.block(r); s != nil {
		return *s
	}
	return TestStatus{Region: r}
}

// All returns a copy of every counter block.
func (a *Aggregator) All() []TestStatus {
	out := make([]TestStatus, len(a.blocks))
	copy(out, a.blocks[:])
	return out
}

// TotalErrors returns the errors summed over every region.
func (a *Aggregator) TotalErrors() uint32 {
	var n uint32
	for _, s := range a.blocks {
		n += s.TotalErrors
	}
	return n
}

// Reset zeroes every counter.
func (a *Aggregator) Reset() {
	for i := range a.blocks {
		a.blocks[i] = TestStatus{Region: diag.RegionID(i)}
	}
}

func (a *Aggregator) block(r diag.RegionID) *TestStatus {
	if r < 0 || int(r) >= len(a.blocks) {
		return nil
	}
	return &a.blocks[r]
}
