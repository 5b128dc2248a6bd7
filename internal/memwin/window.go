// Package memwin provides the bounded raw-memory capability used by the
// pattern engine. A Window is bound to a validated (base, length) range of
// word-aligned memory; every load and store goes through its boundary check,
// so test code cannot express an access outside the range it was given.
package memwin

import (
	"errors"
	"fmt"
)

// WordSize is the width in bytes of a window access.
const WordSize = 4

// Common errors
var (
	ErrRangeInvalid = errors.New("memory window range invalid")
	ErrMisaligned   = errors.New("memory window not word aligned")
	ErrOutOfRange   = errors.New("memory window access out of range")
)

// Memory is the ordinary load/store primitive of the target. Addresses are
// absolute and word aligned.
type Memory interface {
	Load32(addr uint32) uint32
	Store32(addr uint32, v uint32)
}

// Window is a word-granular view of [Start, Start+Size).
type Window struct {
	mem   Memory
	start uint32
	size  uint32
	words uint32
}

// New validates the range and binds it to mem. The start address must be
// word aligned and the range must hold at least one word without wrapping
// the 32-bit address space. A trailing partial word is not part of the
// window.
func New(mem Memory, start, size uint32) (*Window, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: no backing memory", ErrRangeInvalid)
	}
	if start%WordSize != 0 {
		return nil, fmt.Errorf("%w: start 0x%08X", ErrMisaligned, start)
	}
	if size < WordSize {
		return nil, fmt.Errorf("%w: size 0x%X at 0x%08X", ErrRangeInvalid, size, start)
	}
	if uint64(start)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("%w: 0x%08X+0x%X wraps address space", ErrRangeInvalid, start, size)
	}
	return &Window{
		mem:   mem,
		start: start,
		size:  size,
		words: size / WordSize,
	}, nil
}

// Start returns the first address of the window.
func (w *Window) Start() uint32 { return w.start }

// Size returns the length of the window in bytes, as requested.
func (w *Window) Size() uint32 { return w.size }

// Words returns the number of addressable words.
func (w *Window) Words() uint32 { return w.words }

// End returns the address one past the last addressable word.
func (w *Window) End() uint32 { return w.start + w.words*WordSize }

// Memory returns the backing memory. It is exposed so callers can bind
// further windows over the same target.
func (w *Window) Memory() Memory { return w.mem }

// Contains returns true if addr is a word address inside the window.
func (w *Window) Contains(addr uint32) bool {
	return addr >= w.start && addr < w.End() && (addr-w.start)%WordSize == 0
}

// Addr returns the absolute address of word i.
func (w *Window) Addr(i uint32) uint32 {
	w.check(i)
	return w.start + i*WordSize
}

// Read loads word i.
func (w *Window) Read(i uint32) uint32 {
	w.check(i)
	return w.mem.Load32(w.start + i*WordSize)
}

// Write stores v into word i.
func (w *Window) Write(i uint32, v uint32) {
	w.check(i)
	w.mem.Store32(w.start+i*WordSize, v)
}

// Index returns the word index of addr, which must be inside the window.
func (w *Window) Index(addr uint32) (uint32, bool) {
	if !w.Contains(addr) {
		return 0, false
	}
	return (addr - w.start) / WordSize, true
}

// Fold maps an arbitrary word-aligned address into the window by taking it
// modulo the window span. Low-order address bits are preserved when the span
// is a power of two; in every case the result is inside the window.
// Addresses already inside the window are returned unchanged.
func (w *Window) Fold(addr uint32) uint32 {
	addr &^= WordSize - 1
	if w.Contains(addr) {
		return addr
	}
	span := w.words * WordSize
	return w.start + (addr%span)&^(WordSize-1)
}

// Sub returns the window [Start+offset, Start+offset+size) over the same
// memory. The sub-window must lie entirely within w.
func (w *Window) Sub(offset, size uint32) (*Window, error) {
	if offset%WordSize != 0 {
		return nil, fmt.Errorf("%w: offset 0x%X", ErrMisaligned, offset)
	}
	if uint64(offset)+uint64(size) > uint64(w.words*WordSize) {
		return nil, fmt.Errorf("%w: sub-window 0x%X+0x%X exceeds 0x%X", ErrOutOfRange, offset, size, w.words*WordSize)
	}
	return New(w.mem, w.start+offset, size)
}

// Fraction returns the leading 1/div of the window, rounded down to whole
// words and never smaller than one word. A div of 0 or 1 returns w.
func (w *Window) Fraction(div uint32) *Window {
	if div <= 1 {
		return w
	}
	words := w.words / div
	if words == 0 {
		words = 1
	}
	return &Window{mem: w.mem, start: w.start, size: words * WordSize, words: words}
}

// Limit returns the leading part of the window no larger than max bytes.
func (w *Window) Limit(max uint32) *Window {
	words := max / WordSize
	if words == 0 {
		words = 1
	}
	if words >= w.words {
		return w
	}
	return &Window{mem: w.mem, start: w.start, size: words * WordSize, words: words}
}

func (w *Window) check(i uint32) {
	if i >= w.words {
		panic(fmt.Errorf("%w: word %d of %d at 0x%08X", ErrOutOfRange, i, w.words, w.start))
	}
}

func (w *Window) String() string {
	return fmt.Sprintf("Window; Range::0x%08X:0x%08X; Words::%d", w.start, w.End(), w.words)
}
