package sim

import (
	"errors"
	"fmt"

	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

var (
	ErrOverlap  = errors.New("bus device range overlaps existing device")
	ErrUnmapped = errors.New("access to unmapped address")
)

// Mapped is a device occupying [Start, End) on the system bus.
type Mapped interface {
	Start() uint32
	End() uint32
	memwin.Memory
}

// Bank is a block of SRAM.
type Bank struct {
	Name string
	*memwin.RAM
}

// NewBank creates size bytes of SRAM at base.
func NewBank(name string, base, size uint32) *Bank {
	return &Bank{Name: name, RAM: memwin.NewRAM(base, size)}
}

func (b *Bank) Start() uint32 { return b.Base }
func (b *Bank) End() uint32   { return b.Base + uint32(len(b.Data))*memwin.WordSize }

// Bus routes word accesses to the device owning the address and applies the
// injected faults on the way. Every access advances the clock.
type Bus struct {
	devices []Mapped
	curr    Mapped
	faults  faults
	clock   *Clock
	trap    func(diag.TrapKind)
}

// NewBus creates an empty bus driven by clock.
func NewBus(clock *Clock) *Bus {
	return &Bus{clock: clock}
}

// AddDevice maps d. Device ranges may not overlap.
func (b *Bus) AddDevice(d Mapped) error {
	if d.End() <= d.Start() {
		return fmt.Errorf("%w: empty range 0x%08X-0x%08X", memwin.ErrRangeInvalid, d.Start(), d.End())
	}
	for _, e := range b.devices {
		if e.Start() < d.End() && d.Start() < e.End() {
			return fmt.Errorf("%w: 0x%08X-0x%08X", ErrOverlap, d.Start(), d.End())
		}
	}
	b.devices = append(b.devices, d)
	return nil
}

// SetTrap installs the CPU fault handler called on a faulting access. The
// handler is not expected to return.
func (b *Bus) SetTrap(trap func(diag.TrapKind)) { b.trap = trap }

func (b *Bus) find(addr uint32) Mapped {
	if b.curr != nil && addr >= b.curr.Start() && addr < b.curr.End() {
		return b.curr
	}
	for _, d := range b.devices {
		if addr >= d.Start() && addr < d.End() {
			b.curr = d
			return d
		}
	}
	return nil
}

func (b *Bus) fault(kind diag.TrapKind, addr uint32) {
	if b.trap == nil {
		panic(fmt.Errorf("%w: %s at 0x%08X with no trap handler", ErrUnmapped, kind, addr))
	}
	b.trap(kind)
	// a trap handler that returns leaves nothing sensible to load
	panic(fmt.Errorf("trap handler returned after %s at 0x%08X", kind, addr))
}

func (b *Bus) route(addr uint32) (Mapped, uint32) {
	b.clock.tick()
	if kind, ok := b.faults.bus[addr]; ok {
		b.fault(kind, addr)
	}
	phys := b.faults.alias(addr)
	d := b.find(phys)
	if d == nil || addr%memwin.WordSize != 0 {
		kind := diag.TrapBus
		if addr%memwin.WordSize != 0 {
			kind = diag.TrapUsage
		}
		b.fault(kind, addr)
	}
	return d, phys
}

// Load32 implements memwin.Memory.
func (b *Bus) Load32(addr uint32) uint32 {
	d, phys := b.route(addr)
	return b.faults.stick(phys, d.Load32(phys))
}

// Store32 implements memwin.Memory.
func (b *Bus) Store32(addr uint32, v uint32) {
	d, phys := b.route(addr)
	d.Store32(phys, v)
	for _, c := range b.faults.couplings {
		if c.Aggressor != phys {
			continue
		}
		if victim := b.find(c.Victim); victim != nil {
			victim.Store32(c.Victim, victim.Load32(c.Victim)^c.Mask)
		}
	}
}

// Fault injection

type stuck struct {
	addr, mask, value uint32
}

type alias struct {
	line, start, end uint32
}

// Coupling flips Mask in Victim whenever Aggressor is written.
type Coupling struct {
	Aggressor uint32
	Victim    uint32
	Mask      uint32
}

type faults struct {
	stuck     []stuck
	aliases   []alias
	couplings []Coupling
	bus       map[uint32]diag.TrapKind
}

func (f *faults) alias(addr uint32) uint32 {
	for _, a := range f.aliases {
		if addr >= a.start && addr < a.end {
			addr &^= a.line
		}
	}
	return addr
}

func (f *faults) stick(addr, v uint32) uint32 {
	for _, s := range f.stuck {
		if s.addr == addr {
			v = v&^s.mask | s.value&s.mask
		}
	}
	return v
}

// InjectStuckBits forces the bits of mask at addr to read as value.
func (b *Bus) InjectStuckBits(addr, mask, value uint32) {
	b.faults.stuck = append(b.faults.stuck, stuck{addr: addr, mask: mask, value: value})
}

// InjectAddressShort ties address line(s) line low for accesses inside
// [start, end), so pairs of addresses reach the same cell.
func (b *Bus) InjectAddressShort(line, start, end uint32) {
	b.faults.aliases = append(b.faults.aliases, alias{line: line, start: start, end: end})
}

// InjectCoupling adds a coupling fault.
func (b *Bus) InjectCoupling(c Coupling) {
	b.faults.couplings = append(b.faults.couplings, c)
}

// InjectBusFault makes any access to addr raise the given trap.
func (b *Bus) InjectBusFault(addr uint32, kind diag.TrapKind) {
	if b.faults.bus == nil {
		b.faults.bus = make(map[uint32]diag.TrapKind)
	}
	b.faults.bus[addr] = kind
}

// ClearTraps removes the injected trap addresses and keeps the data faults.
func (b *Bus) ClearTraps() {
	b.faults.bus = nil
}

// ClearFaults removes every injected bus fault.
func (b *Bus) ClearFaults() {
	b.faults = faults{}
}
