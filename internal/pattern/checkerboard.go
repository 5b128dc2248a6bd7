package pattern

import (
	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// Checkerboard writes pattern to every word of w and verifies it, then does
// the same with the bit complement of pattern. Each pass finds bits stuck at
// one polarity.
func Checkerboard(w *memwin.Window, pattern uint32, rep Reporter) uint32 {
	fill(w, pattern)
	errors := verifyFill(w, pattern, diag.AlgCheckerboard, "", rep)

	inv := ^pattern
	fill(w, inv)
	errors += verifyFill(w, inv, diag.AlgCheckerboard, "inv", rep)

	return errors
}

// ModifiedCheckerboard alternates 0xAAAAAAAA and 0x55555555 between
// neighbouring words, verifies, then swaps the pairing and verifies again.
// Neighbouring cells always hold opposite values, covering the bridging
// faults a uniform fill cannot provoke.
func ModifiedCheckerboard(w *memwin.Window, rep Reporter) uint32 {
	var errors uint32
	for pass, first := range [2]uint32{AlternateOdd, AlternateEven} {
		phase := "even"
		if pass == 1 {
			phase = "odd"
		}
		for i := uint32(0); i < w.Words(); i++ {
			w.Write(i, alternate(first, i))
		}
		for i := uint32(0); i < w.Words(); i++ {
			errors += verify(w, i, alternate(first, i), diag.AlgModifiedCheckerboard, phase, rep)
		}
	}
	return errors
}

func alternate(first uint32, i uint32) uint32 {
	if i&1 == 0 {
		return first
	}
	return ^first
}
