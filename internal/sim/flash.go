package sim

import (
	"errors"
	"fmt"

	"memdiag/internal/fault"
	"memdiag/internal/memwin"
)

// Flash controller constants.
const (
	FlashKey1     uint32 = 0x45670123
	FlashKey2     uint32 = 0xCDEF89AB
	FlashPageSize uint32 = 0x800

	erased uint32 = 0xFFFFFFFF
)

var (
	ErrFlashLocked   = errors.New("flash locked")
	ErrFlashKey      = errors.New("flash key sequence error, locked until reset")
	ErrFlashErase    = errors.New("flash page erase failed")
	ErrFlashProgram  = errors.New("flash programming failed")
	ErrFlashPageAddr = errors.New("address outside flash")
)

// Flash is the embedded flash with its controller and read cache.
//
// Word stores from the bus reach the array directly, with no programming
// sequence, so test windows in flash are written like RAM. Erase and
// double-word programming go through the controller and obey its lock.
type Flash struct {
	mem   *memwin.RAM
	cache *Cache

	locked   bool
	keyStage int
	lockout  bool
	sr       uint32
	eccr     uint32
	irq      func()

	ecc         map[uint32]uint32
	failErase   int
	failProgram int
	staleCache  bool

	Erases   uint64
	Programs uint64
}

func newFlash(base, size uint32) *Flash {
	f := &Flash{
		mem:    memwin.NewRAM(base, size),
		cache:  newCache(),
		locked: true,
	}
	for i := range f.mem.Data {
		f.mem.Data[i] = erased
	}
	return f
}

func (f *Flash) Start() uint32 { return f.mem.Base }
func (f *Flash) End() uint32   { return f.mem.Base + uint32(len(f.mem.Data))*memwin.WordSize }

// Cache returns the flash read cache.
func (f *Flash) Cache() *Cache { return f.cache }

// SetIRQ connects the flash interrupt line.
func (f *Flash) SetIRQ(irq func()) { f.irq = irq }

func (f *Flash) raise() {
	if f.irq != nil {
		f.irq()
	}
}

// Load32 reads through the cache. A read of an address with an injected
// ECC fault latches the ECC flags and raises the interrupt after the data is
// fetched.
func (f *Flash) Load32(addr uint32) uint32 {
	v := f.cache.read(addr, f.mem.Load32)
	if flag, ok := f.ecc[addr]; ok {
		f.eccr = flag | (addr-f.mem.Base)&fault.ECCAddrMask
		if flag&fault.ECCD != 0 {
			v ^= 1
		}
		f.raise()
	}
	return v
}

// Store32 writes the array and any cached copy.
func (f *Flash) Store32(addr uint32, v uint32) {
	f.mem.Store32(addr, v)
	f.cache.update(addr, v)
}

// WriteKey is a write to the key register. The two keys in order unlock the
// controller; anything else locks it until reset.
func (f *Flash) WriteKey(k uint32) {
	if f.lockout || !f.locked {
		return
	}
	switch {
	case f.keyStage == 0 && k == FlashKey1:
		f.keyStage = 1
	case f.keyStage == 1 && k == FlashKey2:
		f.keyStage = 0
		f.locked = false
	default:
		f.keyStage = 0
		f.lockout = true
	}
}

// Unlock runs the key sequence.
func (f *Flash) Unlock() error {
	if !f.locked {
		return nil
	}
	f.WriteKey(FlashKey1)
	f.WriteKey(FlashKey2)
	if f.locked {
		return ErrFlashKey
	}
	return nil
}

// Lock sets the lock bit.
func (f *Flash) Lock() {
	f.locked = true
	f.keyStage = 0
}

// Locked returns true while the controller is locked.
func (f *Flash) Locked() bool { return f.locked }

// PageOf returns the page holding addr.
func (f *Flash) PageOf(addr uint32) (uint32, error) {
	if addr < f.Start() || addr >= f.End() {
		return 0, fmt.Errorf("%w: 0x%08X", ErrFlashPageAddr, addr)
	}
	return (addr - f.mem.Base) / FlashPageSize, nil
}

// ErasePage erases one page. On failure the page is returned with the error
// and the error flags raise the interrupt. A successful erase flushes the
// cache unless a stale cache fault is injected.
func (f *Flash) ErasePage(page uint32) (uint32, error) {
	if f.locked {
		f.sr |= fault.FlashWRPERR
		return page, ErrFlashLocked
	}
	start := f.mem.Base + page*FlashPageSize
	if page >= (f.End()-f.Start())/FlashPageSize {
		f.sr |= fault.FlashOPERR
		f.raise()
		return page, fmt.Errorf("%w: page %d", ErrFlashPageAddr, page)
	}
	if f.failErase > 0 {
		f.failErase--
		f.sr |= fault.FlashOPERR | fault.FlashPGSERR
		f.raise()
		return page, fmt.Errorf("%w: page %d", ErrFlashErase, page)
	}

	for a := start; a < start+FlashPageSize; a += memwin.WordSize {
		f.mem.Store32(a, erased)
	}
	f.Erases++
	if !f.staleCache {
		f.cache.invalidateAll()
	}
	return erased, nil
}

// ProgramDoubleWord programs the 64-bit value at a double-word aligned,
// erased address. The low word goes to addr.
func (f *Flash) ProgramDoubleWord(addr uint32, data uint64) error {
	if f.locked {
		f.sr |= fault.FlashWRPERR
		return ErrFlashLocked
	}
	if addr%8 != 0 || addr < f.Start() || addr+8 > f.End() {
		f.sr |= fault.FlashOPERR | fault.FlashPGAERR
		f.raise()
		return fmt.Errorf("%w: bad address 0x%08X", ErrFlashProgram, addr)
	}
	if f.failProgram > 0 || f.mem.Load32(addr) != erased || f.mem.Load32(addr+4) != erased {
		if f.failProgram > 0 {
			f.failProgram--
		}
		f.sr |= fault.FlashOPERR | fault.FlashPROGERR
		f.raise()
		return fmt.Errorf("%w: 0x%08X", ErrFlashProgram, addr)
	}
	f.mem.Store32(addr, uint32(data))
	f.mem.Store32(addr+4, uint32(data>>32))
	f.Programs++
	return nil
}

// ECCStatus implements fault.FlashStatus.
func (f *Flash) ECCStatus() uint32 { return f.eccr }

// ClearECC clears the given ECC flags, write one to clear.
func (f *Flash) ClearECC(flags uint32) {
	f.eccr &^= flags & fault.ECCFlags
	if f.eccr&fault.ECCFlags == 0 {
		f.eccr = 0
	}
}

// Status implements fault.FlashStatus.
func (f *Flash) Status() uint32 { return f.sr }

// ClearStatus clears the given status flags, write one to clear.
func (f *Flash) ClearStatus(flags uint32) { f.sr &^= flags }

// InjectECC makes every read of addr report an ECC error. Uncorrectable
// errors also corrupt the returned data.
func (f *Flash) InjectECC(addr uint32, uncorrectable bool) {
	if f.ecc == nil {
		f.ecc = make(map[uint32]uint32)
	}
	flag := fault.ECCC
	if uncorrectable {
		flag = fault.ECCD
	}
	f.ecc[addr&^3] = flag
}

// FailErase makes the next n page erases fail.
func (f *Flash) FailErase(n int) { f.failErase = n }

// FailProgram makes the next n programming operations fail.
func (f *Flash) FailProgram(n int) { f.failProgram = n }

// SetStaleCache stops erase from flushing the cache.
func (f *Flash) SetStaleCache(on bool) { f.staleCache = on }

// ClearFaults removes every injected flash fault.
func (f *Flash) ClearFaults() {
	f.ecc = nil
	f.failErase = 0
	f.failProgram = 0
	f.staleCache = false
}

func (f *Flash) reset() {
	f.Lock()
	f.lockout = false
	f.sr = 0
	f.eccr = 0
	f.cache.enabled = false
	f.cache.prefetch = false
	f.cache.invalidateAll()
}
