package models

import (
	"fmt"
)

// Status is the result of every engine burst, dispatcher pass and collaborator call the scheduler makes.
// Zero is success, negative values are errors, and positive values are informational: either a
// scheduling code in [EmFirst, EmLast] or an engine exit reason that still needs classifying.
type Status int32

const Success Status = 0

// Scheduling codes. Lower values are more important when two of them compete.
const (
	Terminate Status = 1100 + iota
	DbgHyperStepped
	DbgHyperBreakpoint
	DbgHyperAssertion
	DbgStop
	DbgStepped
	DbgBreakpoint
	DbgStep
	Off
	Reset
	Suspend
	Halt
	Resume
	RescheduleREM
	RescheduleHwAcc
	RescheduleRaw
	Reschedule

	EmFirst = Terminate
	EmLast  = Reschedule
)

// Engine exit reasons.
const (
	RawGuestTrap Status = 1200 + iota
	RawInterrupt
	RawInterruptHyper
	RawInterruptPending
	RawToR3
	RawTimerPending
	RawRingSwitch
	RawRingSwitchInt
	RawExceptionPrivileged
	RawStaleSelector
	RawIretTrap
	RawEmulateInstr
	RawEmulateInstrHlt
	RawEmulateInstrLdtFault
	RawEmulateInstrGdtFault
	RawEmulateInstrIdtFault
	RawEmulateInstrTssFault
	RawEmulateInstrPdFault
	PendingRequest

	PatchTrapPF
	PatchTrapGP
	PatchInt3
	PatchDuplicateFunction
	PatchCheckPage
	PatchPendingIrqAfterIret
	PatchEmulateInstr
	PatchContinue
	HcMMIOPatchRead
	HcMMIOPatchWrite

	HcIOPortRead
	HcIOPortWrite
	HcMMIORead
	HcMMIOWrite
	HcMMIOReadWrite

	PgmSyncCR3
	PgmChangeMode
	CsamPendingAction
	RemInterruptedFF
)

// Errors.
const (
	ErrInternal Status = -(1 + iota)
	ErrUnknownExit
	ErrNoEngine
	ErrNotAttached
	ErrInterpreter
	ErrPatchDisabled
	ErrPatchConflict
	ErrNoTrap
	ErrTrpmPanic
	ErrTrpmDontPanic
	ErrRing0Assertion
	ErrTooManyTraps
	ErrFlushedPagesOverflow
	ErrSyncFailed
	ErrVmxInvalidState
	ErrVmxUnableToStart
	ErrVmxUnexpectedExit
	ErrSavedState
)

var statusNames = map[Status]string{
	Success: "SUCCESS",

	Terminate:          "TERMINATE",
	DbgHyperStepped:    "DBG_HYPER_STEPPED",
	DbgHyperBreakpoint: "DBG_HYPER_BREAKPOINT",
	DbgHyperAssertion:  "DBG_HYPER_ASSERTION",
	DbgStop:            "DBG_STOP",
	DbgStepped:         "DBG_STEPPED",
	DbgBreakpoint:      "DBG_BREAKPOINT",
	DbgStep:            "DBG_STEP",
	Off:                "OFF",
	Reset:              "RESET",
	Suspend:            "SUSPEND",
	Halt:               "HALT",
	Resume:             "RESUME",
	RescheduleREM:      "RESCHEDULE_REM",
	RescheduleHwAcc:    "RESCHEDULE_HWACC",
	RescheduleRaw:      "RESCHEDULE_RAW",
	Reschedule:         "RESCHEDULE",

	RawGuestTrap:            "RAW_GUEST_TRAP",
	RawInterrupt:            "RAW_INTERRUPT",
	RawInterruptHyper:       "RAW_INTERRUPT_HYPER",
	RawInterruptPending:     "RAW_INTERRUPT_PENDING",
	RawToR3:                 "RAW_TO_R3",
	RawTimerPending:         "RAW_TIMER_PENDING",
	RawRingSwitch:           "RAW_RING_SWITCH",
	RawRingSwitchInt:        "RAW_RING_SWITCH_INT",
	RawExceptionPrivileged:  "RAW_EXCEPTION_PRIVILEGED",
	RawStaleSelector:        "RAW_STALE_SELECTOR",
	RawIretTrap:             "RAW_IRET_TRAP",
	RawEmulateInstr:         "RAW_EMULATE_INSTR",
	RawEmulateInstrHlt:      "RAW_EMULATE_INSTR_HLT",
	RawEmulateInstrLdtFault: "RAW_EMULATE_INSTR_LDT_FAULT",
	RawEmulateInstrGdtFault: "RAW_EMULATE_INSTR_GDT_FAULT",
	RawEmulateInstrIdtFault: "RAW_EMULATE_INSTR_IDT_FAULT",
	RawEmulateInstrTssFault: "RAW_EMULATE_INSTR_TSS_FAULT",
	RawEmulateInstrPdFault:  "RAW_EMULATE_INSTR_PD_FAULT",
	PendingRequest:          "PENDING_REQUEST",

	PatchTrapPF:              "PATCH_TRAP_PF",
	PatchTrapGP:              "PATCH_TRAP_GP",
	PatchInt3:                "PATCH_INT3",
	PatchDuplicateFunction:   "PATCH_DUPLICATE_FUNCTION",
	PatchCheckPage:           "PATCH_CHECK_PAGE",
	PatchPendingIrqAfterIret: "PATCH_PENDING_IRQ_AFTER_IRET",
	PatchEmulateInstr:        "PATCH_EMULATE_INSTR",
	PatchContinue:            "PATCH_CONTINUE",
	HcMMIOPatchRead:          "HC_MMIO_PATCH_READ",
	HcMMIOPatchWrite:         "HC_MMIO_PATCH_WRITE",

	HcIOPortRead:    "HC_IOPORT_READ",
	HcIOPortWrite:   "HC_IOPORT_WRITE",
	HcMMIORead:      "HC_MMIO_READ",
	HcMMIOWrite:     "HC_MMIO_WRITE",
	HcMMIOReadWrite: "HC_MMIO_READ_WRITE",

	PgmSyncCR3:        "PGM_SYNC_CR3",
	PgmChangeMode:     "PGM_CHANGE_MODE",
	CsamPendingAction: "CSAM_PENDING_ACTION",
	RemInterruptedFF:  "REM_INTERRUPTED_FF",

	ErrInternal:             "ERR_INTERNAL",
	ErrUnknownExit:          "ERR_UNKNOWN_EXIT",
	ErrNoEngine:             "ERR_NO_ENGINE",
	ErrNotAttached:          "ERR_NOT_ATTACHED",
	ErrInterpreter:          "ERR_INTERPRETER",
	ErrPatchDisabled:        "ERR_PATCH_DISABLED",
	ErrPatchConflict:        "ERR_PATCH_CONFLICT",
	ErrNoTrap:               "ERR_NO_TRAP",
	ErrTrpmPanic:            "ERR_TRPM_PANIC",
	ErrTrpmDontPanic:        "ERR_TRPM_DONT_PANIC",
	ErrRing0Assertion:       "ERR_RING0_ASSERTION",
	ErrTooManyTraps:         "ERR_TOO_MANY_TRAPS",
	ErrFlushedPagesOverflow: "ERR_FLUSHED_PAGES_OVERFLOW",
	ErrSyncFailed:           "ERR_SYNC_FAILED",
	ErrVmxInvalidState:      "ERR_VMX_INVALID_STATE",
	ErrVmxUnableToStart:     "ERR_VMX_UNABLE_TO_START",
	ErrVmxUnexpectedExit:    "ERR_VMX_UNEXPECTED_EXIT",
	ErrSavedState:           "ERR_SAVED_STATE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Error lets failing statuses travel as Go errors.
func (s Status) Error() string { return s.String() }

func (s Status) IsError() bool      { return s < Success }
func (s Status) IsScheduling() bool { return s >= EmFirst && s <= EmLast }

// Known reports whether s is one of the declared codes.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// IsReschedule reports the codes that only pick the next engine.
func (s Status) IsReschedule() bool {
	switch s {
	case RescheduleREM, RescheduleHwAcc, RescheduleRaw, Reschedule, Resume:
		return true
	}
	return false
}

// IsTerminal reports the codes that end a Run.
func (s Status) IsTerminal() bool {
	return s == Terminate || s == Off
}

// IsDebug reports guest and hypervisor debug events.
func (s Status) IsDebug() bool {
	return s >= DbgHyperStepped && s <= DbgStep
}

// Merge folds a later result into an aggregate. Success never replaces anything, the first
// error is sticky and beats any informational code, otherwise the first non-success code is kept.
func (s Status) Merge(next Status) Status {
	if next == Success || s.IsError() {
		return s
	}
	if s == Success || next.IsError() {
		return next
	}
	return s
}
