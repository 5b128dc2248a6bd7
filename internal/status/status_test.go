package status

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"memdiag/internal/diag"
)

func TestRecordResult(t *testing.T) {
	a := NewAggregator()
	a.RecordResult(diag.RegionSRAM1, diag.AlgAddress, 0)
	a.RecordResult(diag.RegionSRAM1, diag.AlgButterfly, 3)
	a.RecordResult(diag.RegionSRAM1, diag.AlgCheckerboard, 0)
	a.RecordResult(diag.RegionSRAM1, diag.AlgWalking, 1)

	got := a.Snapshot(diag.RegionSRAM1)
	want := TestStatus{Region: diag.RegionSRAM1, TotalErrors: 4}
	want.Families[diag.FamilyAddress] = Counter{Attempts: 2, Successes: 1}
	want.Families[diag.FamilyData] = Counter{Attempts: 1, Successes: 1}
	want.Families[diag.FamilyWalking] = Counter{Attempts: 1}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot() (-want +got):\n%s", diff)
	}
	if got.Attempts() != 4 || got.Successes() != 2 || got.SuccessRate() != 50 {
		t.Errorf("totals got %d/%d rate %v", got.Successes(), got.Attempts(), got.SuccessRate())
	}
	if got.Families[diag.FamilyAddress].Failures() != 1 {
		t.Errorf("address failures got %d, want 1", got.Families[diag.FamilyAddress].Failures())
	}
}

func TestCountersIndependentPerRegion(t *testing.T) {
	a := NewAggregator()
	a.RecordResult(diag.RegionFlash, diag.AlgCheckerboard, 2)
	a.RecordTransactionFailure(diag.RegionCache, diag.AlgCache)
	a.SetECCErrors(diag.RegionFlash, 7)

	if s := a.Snapshot(diag.RegionCCM); s.Attempts() != 0 || s.TotalErrors != 0 {
		t.Errorf("CCM touched: %v", s)
	}
	if s := a.Snapshot(diag.RegionCache); s.TransactionFailures != 1 || s.Attempts() != 1 || s.Successes() != 0 || s.TotalErrors != 0 {
		t.Errorf("cache after transaction failure: %v", s)
	}
	if s := a.Snapshot(diag.RegionFlash); s.ECCErrors != 7 {
		t.Errorf("flash ECC got %d, want 7", s.ECCErrors)
	}
	if a.TotalErrors() != 2 {
		t.Errorf("TotalErrors() got %d, want 2", a.TotalErrors())
	}
	if len(a.All()) != diag.NumRegions {
		t.Errorf("All() got %d blocks", len(a.All()))
	}
}

func TestReset(t *testing.T) {
	a := NewAggregator()
	a.RecordResult(diag.RegionSRAM2, diag.AlgMarchC, 5)
	a.Reset()
	if diff := cmp.Diff(TestStatus{Region: diag.RegionSRAM2}, a.Snapshot(diag.RegionSRAM2)); diff != "" {
		t.Errorf("after Reset() (-want +got):\n%s", diff)
	}
	if r := a.Snapshot(diag.RegionID(42)); r.Region != 42 || r.Attempts() != 0 {
		t.Errorf("unknown region snapshot: %v", r)
	}
}

func TestString(t *testing.T) {
	a := NewAggregator()
	a.RecordResult(diag.RegionCache, diag.AlgCache, 0)
	want := "Cache: errors=0 ecc=0 txfail=0 Cache=1/1"
	if got := a.Snapshot(diag.RegionCache).String(); got != want {
		t.Errorf("String() got %q, want %q", got, want)
	}
}

func TestRecordSkipped(t *testing.T) {
	a := NewAggregator()
	a.RecordResult(diag.RegionFlash, diag.AlgButterfly, 0)
	a.RecordSkipped(diag.RegionFlash, 16)
	a.RecordSkipped(diag.RegionFlash, 16)
	a.RecordSkipped(diag.RegionID(42), 1)

	s := a.Snapshot(diag.RegionFlash)
	if s.SkippedPairs != 32 {
		t.Errorf("SkippedPairs got %d, want 32", s.SkippedPairs)
	}
	want := "Flash: errors=0 ecc=0 txfail=0 Address=1/1 skipped=32"
	if got := s.String(); got != want {
		t.Errorf("String() got %q, want %q", got, want)
	}
}
