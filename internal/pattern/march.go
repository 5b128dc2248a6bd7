package pattern

import (
	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// MarchC runs a March C- style sequence over w using background bg and its
// complement:
//
//	up(w0); up(r0,w1); up(r1,w0); down(r0)
//
// The element order is fixed, so two runs over the same memory with the same
// background produce the same reports.
func MarchC(w *memwin.Window, bg uint32, rep Reporter) uint32 {
	n := w.Words()
	inv := ^bg
	var errors uint32

	fill(w, bg)

	for i := uint32(0); i < n; i++ {
		errors += verify(w, i, bg, diag.AlgMarchC, "M1", rep)
		w.Write(i, inv)
	}
	for i := uint32(0); i < n; i++ {
		errors += verify(w, i, inv, diag.AlgMarchC, "M2", rep)
		w.Write(i, bg)
	}
	for i := n; i > 0; i-- {
		errors += verify(w, i-1, bg, diag.AlgMarchC, "M3", rep)
	}
	return errors
}

// Galpat runs a galloping pattern test: with the window at background bg,
// each word in turn is set to the complement and every other word is read in
// ascending then descending order, re-reading the base word after each.
// Its cost is quadratic in the window size; callers bound the window.
func Galpat(w *memwin.Window, bg uint32, rep Reporter) uint32 {
	n := w.Words()
	inv := ^bg
	var errors uint32

	fill(w, bg)
	for base := uint32(0); base < n; base++ {
		w.Write(base, inv)
		for j := uint32(0); j < n; j++ {
			if j == base {
				continue
			}
			errors += verify(w, j, bg, diag.AlgGalpat, "up", rep)
			errors += verify(w, base, inv, diag.AlgGalpat, "up", rep)
		}
		for j := n; j > 0; j-- {
			if j-1 == base {
				continue
			}
			errors += verify(w, j-1, bg, diag.AlgGalpat, "down", rep)
			errors += verify(w, base, inv, diag.AlgGalpat, "down", rep)
		}
		w.Write(base, bg)
	}
	return errors
}

// WalkingOnes shifts a single set bit through all 32 bit positions. For each
// position the whole window is written then verified.
func WalkingOnes(w *memwin.Window, rep Reporter) uint32 {
	return walk(w, false, rep)
}

// WalkingZeros is WalkingOnes with every written value inverted.
func WalkingZeros(w *memwin.Window, rep Reporter) uint32 {
	return walk(w, true, rep)
}

func walk(w *memwin.Window, zeros bool, rep Reporter) uint32 {
	phase := "ones"
	if zeros {
		phase = "zeros"
	}
	var errors uint32
	for bit := 0; bit < 32; bit++ {
		v := uint32(1) << bit
		if zeros {
			v = ^v
		}
		fill(w, v)
		errors += verifyFill(w, v, diag.AlgWalking, phase, rep)
	}
	return errors
}
