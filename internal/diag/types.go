package diag

import "strings"

// Error codes

// Err is the machine-word error code persisted in the forensics record.
// Values are fixed; they are read back after a reset by whatever firmware
// build is running at the time.
type Err uint32

const (
	ErrNone         Err = 0x00
	ErrFlashWrite   Err = 0x01
	ErrFlashRead    Err = 0x02
	ErrSRAMWrite    Err = 0x03
	ErrSRAMRead     Err = 0x04
	ErrCacheInvalid Err = 0x05
	ErrECCDetected  Err = 0x06
	ErrHardFault    Err = 0x0A
	ErrBusFault     Err = 0x0B
	ErrMemManage    Err = 0x0C
	ErrUsageFault   Err = 0x0D
	ErrWatchdog     Err = 0x0E
)

// IsFatal returns true for codes written by a CPU fault trap.
func (e Err) IsFatal() bool { return e >= ErrHardFault && e <= ErrUsageFault }

// Operation tags

// OpTag is the fixed-width identifier of an operation. It holds up to four
// ASCII characters packed big-endian, first character in the top byte.
type OpTag uint32

// OpNone is the tag of "no operation in flight".
const OpNone OpTag = 0

// MakeTag packs the first four bytes of name into an OpTag.
func MakeTag(name string) OpTag {
	var t OpTag
	for i := 0; i < 4 && i < len(name); i++ {
		t = t<<8 | OpTag(name[i])
	}
	return t
}

// String unpacks the tag. Leading zero bytes (short names) are skipped and
// non-printable bytes are shown as '.'.
func (t OpTag) String() string {
	if t == OpNone {
		return "----"
	}
	var sb strings.Builder
	started := false
	for shift := 24; shift >= 0; shift -= 8 {
		b := byte(t >> uint(shift))
		if b == 0 && !started {
			continue
		}
		started = true
		if b < 0x20 || b > 0x7e {
			b = '.'
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

// Memory regions

// RegionID identifies a physical memory region of the device.
type RegionID int

const (
	RegionFlash RegionID = iota
	RegionSRAM1
	RegionSRAM2
	RegionCCM
	// RegionCache is the flash cache path. It has a status block but no
	// window.
	RegionCache

	NumRegions = int(RegionCache) + 1
)

// MemoryRegions lists the regions that own a test window.
var MemoryRegions = []RegionID{RegionFlash, RegionSRAM1, RegionSRAM2, RegionCCM}

func (r RegionID) String() string {
	switch r {
	case RegionFlash:
		return "Flash"
	case RegionSRAM1:
		return "SRAM1"
	case RegionSRAM2:
		return "SRAM2"
	case RegionCCM:
		return "CCM SRAM"
	case RegionCache:
		return "Cache"
	default:
		return "Unknown"
	}
}

// Code is the single character used as the first byte of operation tags.
func (r RegionID) Code() byte {
	switch r {
	case RegionFlash:
		return 'F'
	case RegionSRAM1:
		return '1'
	case RegionSRAM2:
		return '2'
	case RegionCCM:
		return 'C'
	case RegionCache:
		return 'K'
	default:
		return '?'
	}
}

// Algorithms

// Algorithm identifies one of the pattern engine routines.
type Algorithm int

const (
	AlgAddress Algorithm = iota
	AlgButterfly
	AlgCheckerboard
	AlgMarchC
	AlgGalpat
	AlgWalking
	AlgModifiedCheckerboard
	AlgCache
)

func (a Algorithm) String() string {
	switch a {
	case AlgAddress:
		return "Address Test"
	case AlgButterfly:
		return "Butterfly Test"
	case AlgCheckerboard:
		return "Checkerboard Test"
	case AlgMarchC:
		return "March C Test"
	case AlgGalpat:
		return "Galpat Test"
	case AlgWalking:
		return "Walking Test"
	case AlgModifiedCheckerboard:
		return "Modified Checkerboard"
	case AlgCache:
		return "Cache Test"
	default:
		return "Unknown Test"
	}
}

// Code is the three character mnemonic used in operation tags.
func (a Algorithm) Code() string {
	switch a {
	case AlgAddress:
		return "ADR"
	case AlgButterfly:
		return "BFY"
	case AlgCheckerboard:
		return "CKB"
	case AlgMarchC:
		return "MRC"
	case AlgGalpat:
		return "GLP"
	case AlgWalking:
		return "WLK"
	case AlgModifiedCheckerboard:
		return "MCB"
	case AlgCache:
		return "CCH"
	default:
		return "???"
	}
}

// Tag returns the operation tag for running alg over region r.
func Tag(r RegionID, alg Algorithm) OpTag {
	return MakeTag(string(r.Code()) + alg.Code())
}

// Family groups algorithms into the status counters they update.
type Family int

const (
	FamilyAddress Family = iota
	FamilyData
	FamilyMarch
	FamilyGalpat
	FamilyWalking
	FamilyCache

	NumFamilies = int(FamilyCache) + 1
)

func (f Family) String() string {
	switch f {
	case FamilyAddress:
		return "Address"
	case FamilyData:
		return "Data"
	case FamilyMarch:
		return "March C"
	case FamilyGalpat:
		return "Galpat"
	case FamilyWalking:
		return "Walking"
	case FamilyCache:
		return "Cache"
	default:
		return "Unknown"
	}
}

// Family returns the status family an algorithm is counted under.
func (a Algorithm) Family() Family {
	switch a {
	case AlgAddress, AlgButterfly:
		return FamilyAddress
	case AlgCheckerboard, AlgModifiedCheckerboard:
		return FamilyData
	case AlgMarchC:
		return FamilyMarch
	case AlgGalpat:
		return FamilyGalpat
	case AlgWalking:
		return FamilyWalking
	default:
		return FamilyCache
	}
}

// Reset cause

// Reset status register flags (RCC_CSR layout).
const (
	RstOBL   uint32 = 1 << 25 // option byte loader
	RstPin   uint32 = 1 << 26 // NRST pin
	RstBOR   uint32 = 1 << 27 // brown-out / power-on
	RstSoft  uint32 = 1 << 28 // software request
	RstIWDG  uint32 = 1 << 29 // independent watchdog
	RstWWDG  uint32 = 1 << 30 // window watchdog
	RstLPWR  uint32 = 1 << 31 // low-power
	RstFlags uint32 = RstOBL | RstPin | RstBOR | RstSoft | RstIWDG | RstWWDG | RstLPWR
)

// ResetCause is the boot classification derived from reset status flags.
type ResetCause int

const (
	ResetOther ResetCause = iota
	ResetWatchdog
	ResetPin
	ResetPowerOn
)

func (c ResetCause) String() string {
	switch c {
	case ResetWatchdog:
		return "watchdog"
	case ResetPin:
		return "pin"
	case ResetPowerOn:
		return "power-on"
	default:
		return "other"
	}
}

// ClassifyReset maps raw reset flags to a cause. A watchdog reset also
// drives the reset pin, so the watchdog flags are checked first.
func ClassifyReset(flags uint32) ResetCause {
	switch {
	case flags&(RstIWDG|RstWWDG) != 0:
		return ResetWatchdog
	case flags&RstBOR != 0:
		return ResetPowerOn
	case flags&RstPin != 0:
		return ResetPin
	default:
		return ResetOther
	}
}

// CPU traps

// TrapKind identifies a CPU fault exception.
type TrapKind int

const (
	TrapHard TrapKind = iota
	TrapBus
	TrapUsage
	TrapMemManage
)

func (k TrapKind) String() string {
	switch k {
	case TrapHard:
		return "HARDFAULT"
	case TrapBus:
		return "BUSFAULT"
	case TrapUsage:
		return "USAGE FAULT"
	case TrapMemManage:
		return "MEMORY MANAGEMENT FAULT"
	default:
		return "UNKNOWN FAULT"
	}
}

// Code is the fatal error code recorded for the trap.
func (k TrapKind) Code() Err {
	switch k {
	case TrapBus:
		return ErrBusFault
	case TrapUsage:
		return ErrUsageFault
	case TrapMemManage:
		return ErrMemManage
	default:
		return ErrHardFault
	}
}

// Test modes

// Mode selects the test plan run each cycle.
type Mode int

const (
	ModeNormal Mode = iota
	ModeStress
	ModeSRAMOnly
	ModeFlashOnly
	ModeCacheOnly
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeStress:
		return "stress"
	case ModeSRAMOnly:
		return "sram"
	case ModeFlashOnly:
		return "flash"
	case ModeCacheOnly:
		return "cache"
	default:
		return "unknown"
	}
}

// ParseMode returns the mode with the given name.
func ParseMode(s string) (Mode, bool) {
	for m := ModeNormal; m <= ModeCacheOnly; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, true
		}
	}
	return ModeNormal, false
}
