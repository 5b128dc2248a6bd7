package pattern

import (
	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// Butterfly limits.
const (
	DefaultButterflyPairs = 16
	MaxButterflyPairs     = 32
	powerOfTwoPairs       = 5

	rotationSalt uint32 = 19
	pairSalt     uint32 = 0x11111111
)

// AddressPattern is the value stored at addr during cycle by the address
// test. Mixing the cycle in means every pass uses a distinct pattern.
func AddressPattern(addr, cycle uint32) uint32 {
	return addr ^ (cycle * addressSalt) ^ addressMask
}

// Address writes AddressPattern to every stride-th word of w and verifies
// every written word. A stride of 0 tests every word; strides are rounded up
// to a whole word.
func Address(w *memwin.Window, cycle, stride uint32, rep Reporter) uint32 {
	step := stride / memwin.WordSize
	if stride%memwin.WordSize != 0 || step == 0 {
		step++
	}

	for i := uint32(0); i < w.Words(); i += step {
		w.Write(i, AddressPattern(w.Addr(i), cycle))
	}

	var errors uint32
	for i := uint32(0); i < w.Words(); i += step {
		errors += verify(w, i, AddressPattern(w.Addr(i), cycle), diag.AlgAddress, "", rep)
	}
	return errors
}

// Pair is one butterfly address pair. Both addresses are inside the tested
// window.
type Pair struct {
	A, B uint32
}

// ButterflyPairs computes the address pairs tested by EnhancedButterfly for
// one cycle. The first numPairs pairs are spread evenly over the whole region
// [regionBase, regionBase+regionSize), each pairing a position with the one
// half a region further on. They are followed by up to five pairs separated
// by 4, 8, 16, 32 and 64 words, probing power-of-two address line shorts. A
// separation that does not fit the region is replaced by half the region.
//
// All pair positions are offset by (cycle*19) mod regionSize, so positions
// move from cycle to cycle. Addresses falling outside w are folded into it.
func ButterflyPairs(w *memwin.Window, regionBase, regionSize, cycle, numPairs uint32) []Pair {
	if numPairs == 0 {
		numPairs = DefaultButterflyPairs
	}
	if numPairs > MaxButterflyPairs {
		numPairs = MaxButterflyPairs
	}
	if regionSize < 2*memwin.WordSize {
		regionSize = w.Size()
		regionBase = w.Start()
	}

	size := uint64(regionSize)
	rot := uint64(cycle*rotationSalt) % size
	spacing := size / uint64(numPairs)

	at := func(pos uint64) uint32 {
		addr := regionBase + uint32((pos%size)&^(memwin.WordSize-1))
		return w.Fold(addr)
	}

	pairs := make([]Pair, 0, MaxButterflyPairs)
	for i := uint64(0); i < uint64(numPairs); i++ {
		pos := rot + i*spacing
		pairs = append(pairs, Pair{A: at(pos), B: at(pos + size/2)})
	}

	for i := uint32(0); i < powerOfTwoPairs && len(pairs) < MaxButterflyPairs; i++ {
		dist := uint64(4<<i) * memwin.WordSize
		if dist >= size {
			dist = size / 2
		}
		pairs = append(pairs, Pair{A: at(rot), B: at(rot + dist)})
	}
	return pairs
}

// EnhancedButterfly runs the butterfly address test over w. Each pair is
// written with complementary patterns, verified, swapped and verified again,
// so a short between the pair's address lines shows in one phase or the
// other. A pair whose addresses fold onto the same word cannot be tested; it
// is reported as a collision and skipped.
func EnhancedButterfly(w *memwin.Window, regionBase, regionSize, cycle, numPairs uint32, rep Reporter) uint32 {
	var errors uint32
	for n, p := range ButterflyPairs(w, regionBase, regionSize, cycle, numPairs) {
		if p.A == p.B {
			rep.Collision(diag.AlgButterfly, n, p.A)
			continue
		}
		a, _ := w.Index(p.A)
		b, _ := w.Index(p.B)

		salt := uint32(n) * pairSalt
		p1 := AlternateOdd ^ salt ^ cycle
		p2 := AlternateEven ^ salt ^ cycle

		w.Write(a, p1)
		w.Write(b, p2)
		errors += verify(w, a, p1, diag.AlgButterfly, "", rep)
		errors += verify(w, b, p2, diag.AlgButterfly, "", rep)

		w.Write(a, p2)
		w.Write(b, p1)
		errors += verify(w, a, p2, diag.AlgButterfly, "swap", rep)
		errors += verify(w, b, p1, diag.AlgButterfly, "swap", rep)
	}
	return errors
}
