package sim

import (
	"fmt"
	"sync/atomic"

	"memdiag/internal/diag"
)

// NumBackupRegisters is the size of the backup domain register file.
const NumBackupRegisters = 32

// BackupDomain is the register file that survives system resets. Each slot
// is a single atomic word.
type BackupDomain struct {
	regs [NumBackupRegisters]atomic.Uint32
}

// ReadBackup returns slot.
func (b *BackupDomain) ReadBackup(slot int) uint32 {
	b.check(slot)
	return b.regs[slot].Load()
}

// WriteBackup sets slot.
func (b *BackupDomain) WriteBackup(slot int, v uint32) {
	b.check(slot)
	b.regs[slot].Store(v)
}

func (b *BackupDomain) check(slot int) {
	if slot < 0 || slot >= NumBackupRegisters {
		panic(fmt.Sprintf("backup register %d out of range", slot))
	}
}

func (b *BackupDomain) powerOff() {
	for i := range b.regs {
		b.regs[i].Store(0)
	}
}

// ResetController holds the reset status flags.
type ResetController struct {
	csr atomic.Uint32
}

// ResetFlags returns the latched reset cause flags.
func (r *ResetController) ResetFlags() uint32 { return r.csr.Load() & diag.RstFlags }

// ClearResetFlags clears every latched flag.
func (r *ResetController) ClearResetFlags() { r.csr.Store(0) }

func (r *ResetController) latch(flags uint32) {
	for {
		old := r.csr.Load()
		if r.csr.CompareAndSwap(old, old|flags&diag.RstFlags) {
			return
		}
	}
}
