package common

import (
	"fmt"
	"strings"

	"memdiag/internal/diag"
)

// ErrSeverity is the severity carried by an Error object.
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// NoCycle marks an Error that is not tied to a test cycle.
const NoCycle = ^uint32(0)

// Error is the engine's error object. It pairs a persisted error code with
// the cycle and operation in flight when it was raised.
type Error struct {
	Code    diag.Err
	Sev     ErrSeverity
	Cycle   uint32
	Op      diag.OpTag
	Message string
}

func NewError(sev ErrSeverity, code diag.Err) *Error {
	return &Error{
		Code:  code,
		Sev:   sev,
		Cycle: NoCycle,
	}
}

func NewErrorMsg(sev ErrSeverity, code diag.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Cycle:   NoCycle,
		Message: msg,
	}
}

func NewErrorWithOp(sev ErrSeverity, code diag.Err, cycle uint32, op diag.OpTag, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Cycle:   cycle,
		Op:      op,
		Message: msg,
	}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case ErrSevError:
		sb.WriteString("ERROR:")
	case ErrSevWarn:
		sb.WriteString("WARN :")
	case ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", uint32(e.Code)))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Cycle != NoCycle {
		sb.WriteString(fmt.Sprintf("Cycle=%d; ", e.Cycle))
	}

	if e.Op != diag.OpNone {
		sb.WriteString(fmt.Sprintf("Op=%s; ", e.Op))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// CodeName returns the symbolic name of an error code.
func CodeName(code diag.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return fmt.Sprintf("ERR_0x%02X", uint32(code))
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[diag.Err]errDesc{
	diag.ErrNone:         {"ERR_NONE", "No Error."},
	diag.ErrFlashWrite:   {"ERR_FLASH_WRITE", "Flash write failure."},
	diag.ErrFlashRead:    {"ERR_FLASH_READ", "Flash read mismatch."},
	diag.ErrSRAMWrite:    {"ERR_SRAM_WRITE", "SRAM write failure."},
	diag.ErrSRAMRead:     {"ERR_SRAM_READ", "SRAM read mismatch."},
	diag.ErrCacheInvalid: {"ERR_CACHE_INVALID", "Cache returned invalid data."},
	diag.ErrECCDetected:  {"ERR_ECC_DETECTED", "Flash ECC error detected."},
	diag.ErrHardFault:    {"ERR_HARDFAULT", "CPU hard fault."},
	diag.ErrBusFault:     {"ERR_BUSFAULT", "CPU bus fault."},
	diag.ErrMemManage:    {"ERR_MEMMANAGE", "CPU memory management fault."},
	diag.ErrUsageFault:   {"ERR_USAGEFAULT", "CPU usage fault."},
	diag.ErrWatchdog:     {"ERR_WATCHDOG", "Watchdog expired."},
}
