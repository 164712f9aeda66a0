package em

import (
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// TrapManager owns the guest trap table and the trap queued for delivery.
type TrapManager interface {
	HasTrap() bool
	QueryTrap() (models.Trap, error)
	InjectTrap(vector uint8, errCode uint32, kind models.TrapKind) models.Status
	ResetTrap()
	// GuestTrapHandler reports whether vector has a handler the raw engine can dispatch to directly.
	GuestTrapHandler(vector uint8) bool
	ForwardTrap(ctx *cpu.Context, t models.Trap) models.Status
	SyncIDT() models.Status
}

// PatchManager rewrites privileged guest code into host owned patch regions.
type PatchManager interface {
	Enabled() bool
	IsPatchAddr(pc uint32) bool
	ShouldUseRawMode(pc uint32) bool
	HandleTrap(ctx *cpu.Context, pc uint32) (models.Status, uint32)
	InstallPatch(flat uint32, flags models.PatchFlags) error
	IsInsidePatchJump(pc uint32) bool
	PatchToGuest(pc uint32) (uint32, bool)
	// InterruptsEnabled reports the virtual IF, which differs from the real one inside patch code.
	InterruptsEnabled(ctx *cpu.Context) bool
	IsInt3Patch(pc uint32) bool
	RemovePatch(pc uint32) error
	DuplicateFunction(ctx *cpu.Context) error
	HandleMonitoredPage() error
}

type CodeScanner interface {
	ScanCode(ctx *cpu.Context, pc uint32)
	DoPendingAction()
	CheckGates(vector uint8, n int)
}

type DescriptorSync interface {
	SyncDescriptorTables(ctx *cpu.Context) models.Status
	SyncTSS(ctx *cpu.Context) models.Status
}

type PageSync interface {
	SyncPageDirectory(cr0, cr3, cr4 uint32, global bool) models.Status
	PrefetchPage(addr uint32) models.Status
	AllocateReservePages() models.Status
	ChangeMode(cr0, cr4 uint32, efer uint64) models.Status
}

// RawEngine runs guest code directly with supervisor code compressed to ring 1.
type RawEngine interface {
	RunBurst(ctx *cpu.Context) models.Status
	ResumeHyper(ctx *cpu.Context) models.Status
	CheckTSS(ctx *cpu.Context)
}

type HwEngine interface {
	RunBurst(ctx *cpu.Context) models.Status
	CanExecuteGuest(ctx *cpu.Context) bool
	// HasLatchedEvent reports an event already committed for injection on the next entry.
	HasLatchedEvent() bool
	Active() bool
	CheckError(rc models.Status)
}

// SoftwareEngine keeps its own copy of the guest state between Sync and SyncBack.
type SoftwareEngine interface {
	Sync(ctx *cpu.Context) models.Status
	SyncBack(ctx *cpu.Context)
	RunBurst() models.Status
	Step() models.Status
	EmulateInstruction(ctx *cpu.Context) models.Status
	PendingInterrupt() bool
	// InhibitPC reports the pc of an instruction still in the interrupt shadow of a sti, mov ss or
	// pop ss the engine just ran.
	InhibitPC() (uint32, bool)
	ReplayHandlerNotifications()
	ReplayInvalidatedPages()
}

type Disassembler interface {
	Decode(ctx *cpu.Context) (models.Instr, error)
}

// Interpreter executes single decoded instructions against the context. It never advances EIP;
// the caller does that on success. ErrInterpreter means the instruction is not supported.
type Interpreter interface {
	Interpret(ctx *cpu.Context, in models.Instr) models.Status
	InterpretIN(ctx *cpu.Context, in models.Instr) models.Status
	InterpretOUT(ctx *cpu.Context, in models.Instr) models.Status
	InterpretINS(ctx *cpu.Context, in models.Instr) models.Status
	InterpretOUTS(ctx *cpu.Context, in models.Instr) models.Status
}

// InterruptController acknowledges and returns the highest priority pending vector.
// It clears its own forced-action flag once nothing is left pending.
type InterruptController interface {
	PendingInterrupt() (uint8, bool)
}

type Flusher interface {
	FlushPending() models.Status
}

type RequestProcessor interface {
	Process() models.Status
}

// Debugger calls block until the user decides how to continue.
type Debugger interface {
	Event(kind models.DebugEvent) models.Status
	EventBreakpoint(kind models.DebugEvent) models.Status
	EventAssertion(msg string) models.Status
	ForcedAction() models.Status
}

type Resetter interface {
	Reset() models.Status
}

type VirtualClock interface {
	Pause()
	Resume()
}

// Collaborators is everything the scheduler drives. Nil members are replaced by no-op versions in New.
type Collaborators struct {
	Traps       TrapManager
	Patches     PatchManager
	Scanner     CodeScanner
	Descriptors DescriptorSync
	Pages       PageSync

	Raw  RawEngine
	Hw   HwEngine
	Soft SoftwareEngine

	Disas  Disassembler
	Interp Interpreter

	APIC, PIC InterruptController

	Timers, Queues, DMA, CritSect, Poller Flusher

	Requests RequestProcessor
	Debugger Debugger
	Resetter Resetter
	Clock    VirtualClock
}

func (c *Collaborators) fill() {
	if c.Traps == nil {
		c.Traps = nopTraps{}
	}
	if c.Patches == nil {
		c.Patches = nopPatches{}
	}
	if c.Scanner == nil {
		c.Scanner = nopScanner{}
	}
	if c.Descriptors == nil {
		c.Descriptors = nopSync{}
	}
	if c.Pages == nil {
		c.Pages = nopSync{}
	}
	if c.Raw == nil {
		c.Raw = nopEngine{}
	}
	if c.Hw == nil {
		c.Hw = nopEngine{}
	}
	if c.Soft == nil {
		c.Soft = nopSoft{}
	}
	if c.Disas == nil {
		c.Disas = nopDecoder{}
	}
	if c.Interp == nil {
		c.Interp = nopDecoder{}
	}
	if c.APIC == nil {
		c.APIC = nopFlusher{}
	}
	if c.PIC == nil {
		c.PIC = nopFlusher{}
	}
	for _, f := range []*Flusher{&c.Timers, &c.Queues, &c.DMA, &c.CritSect, &c.Poller} {
		if *f == nil {
			*f = nopFlusher{}
		}
	}
	if c.Requests == nil {
		c.Requests = nopFlusher{}
	}
	if c.Debugger == nil {
		c.Debugger = nopDebugger{}
	}
	if c.Resetter == nil {
		c.Resetter = nopFlusher{}
	}
	if c.Clock == nil {
		c.Clock = nopFlusher{}
	}
}
