package memwin

import "fmt"

// RAM is a plain word array at a fixed base address. It implements Memory
// and counts accesses, which makes it the reference backing for windows that
// are not routed through a target bus.
type RAM struct {
	Base   uint32
	Data   []uint32
	Loads  uint64
	Stores uint64
}

// NewRAM creates size bytes of zeroed memory at base.
func NewRAM(base, size uint32) *RAM {
	return &RAM{Base: base, Data: make([]uint32, size/WordSize)}
}

func (r *RAM) index(addr uint32) uint32 {
	if addr < r.Base || addr%WordSize != 0 || (addr-r.Base)/WordSize >= uint32(len(r.Data)) {
		panic(fmt.Errorf("%w: RAM access at 0x%08X", ErrOutOfRange, addr))
	}
	return (addr - r.Base) / WordSize
}

// Load32 implements Memory.
func (r *RAM) Load32(addr uint32) uint32 {
	r.Loads++
	return r.Data[r.index(addr)]
}

// Store32 implements Memory.
func (r *RAM) Store32(addr uint32, v uint32) {
	r.Stores++
	r.Data[r.index(addr)] = v
}

// Window returns a window over the whole RAM.
func (r *RAM) Window() *Window {
	w, err := New(r, r.Base, uint32(len(r.Data))*WordSize)
	if err != nil {
		panic(err)
	}
	return w
}

// ResetCounts zeroes the access counters.
func (r *RAM) ResetCounts() {
	r.Loads = 0
	r.Stores = 0
}
