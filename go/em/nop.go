package em

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

var errNoDecoder = errors.New("no disassembler")

type nopTraps struct{}

func (nopTraps) HasTrap() bool                                       { return false }
func (nopTraps) QueryTrap() (models.Trap, error)                     { return models.Trap{}, models.ErrNoTrap }
func (nopTraps) ResetTrap()                                          {}
func (nopTraps) GuestTrapHandler(uint8) bool                         { return false }
func (nopTraps) ForwardTrap(*cpu.Context, models.Trap) models.Status { return models.RawGuestTrap }
func (nopTraps) SyncIDT() models.Status                              { return models.Success }

func (nopTraps) InjectTrap(uint8, uint32, models.TrapKind) models.Status {
	return models.ErrNoTrap
}

type nopPatches struct{}

func (nopPatches) Enabled() bool                                { return false }
func (nopPatches) IsPatchAddr(uint32) bool                      { return false }
func (nopPatches) ShouldUseRawMode(uint32) bool                 { return false }
func (nopPatches) InstallPatch(uint32, models.PatchFlags) error { return models.ErrPatchDisabled }
func (nopPatches) IsInsidePatchJump(uint32) bool                { return false }
func (nopPatches) PatchToGuest(pc uint32) (uint32, bool)        { return pc, true }
func (nopPatches) InterruptsEnabled(ctx *cpu.Context) bool      { return ctx.IF() }
func (nopPatches) IsInt3Patch(uint32) bool                      { return false }
func (nopPatches) RemovePatch(uint32) error                     { return nil }
func (nopPatches) DuplicateFunction(*cpu.Context) error         { return nil }
func (nopPatches) HandleMonitoredPage() error                   { return nil }

func (nopPatches) HandleTrap(ctx *cpu.Context, pc uint32) (models.Status, uint32) {
	return models.ErrPatchDisabled, pc
}

type nopScanner struct{}

func (nopScanner) ScanCode(*cpu.Context, uint32) {}
func (nopScanner) DoPendingAction()              {}
func (nopScanner) CheckGates(uint8, int)         {}

type nopSync struct{}

func (nopSync) SyncDescriptorTables(*cpu.Context) models.Status              { return models.Success }
func (nopSync) SyncTSS(*cpu.Context) models.Status                           { return models.Success }
func (nopSync) SyncPageDirectory(cr0, cr3, cr4 uint32, g bool) models.Status { return models.Success }
func (nopSync) PrefetchPage(uint32) models.Status                            { return models.Success }
func (nopSync) AllocateReservePages() models.Status                          { return models.Success }
func (nopSync) ChangeMode(cr0, cr4 uint32, efer uint64) models.Status        { return models.Success }

// nopEngine stands in for a missing raw or hardware engine. Running it is an error, asking it questions is not.
type nopEngine struct{}

func (nopEngine) RunBurst(*cpu.Context) models.Status    { return models.ErrNoEngine }
func (nopEngine) ResumeHyper(*cpu.Context) models.Status { return models.ErrNoEngine }
func (nopEngine) CheckTSS(*cpu.Context)                  {}
func (nopEngine) CanExecuteGuest(*cpu.Context) bool      { return false }
func (nopEngine) HasLatchedEvent() bool                  { return false }
func (nopEngine) Active() bool                           { return false }
func (nopEngine) CheckError(models.Status)               {}

type nopSoft struct{}

func (nopSoft) Sync(*cpu.Context) models.Status               { return models.ErrNoEngine }
func (nopSoft) SyncBack(*cpu.Context)                         {}
func (nopSoft) RunBurst() models.Status                       { return models.ErrNoEngine }
func (nopSoft) Step() models.Status                           { return models.ErrNoEngine }
func (nopSoft) EmulateInstruction(*cpu.Context) models.Status { return models.ErrNoEngine }
func (nopSoft) PendingInterrupt() bool                        { return false }
func (nopSoft) InhibitPC() (uint32, bool)                     { return 0, false }
func (nopSoft) ReplayHandlerNotifications()                   {}
func (nopSoft) ReplayInvalidatedPages()                       {}

type nopDecoder struct{}

func (nopDecoder) Decode(*cpu.Context) (models.Instr, error)              { return models.Instr{}, errNoDecoder }
func (nopDecoder) Interpret(*cpu.Context, models.Instr) models.Status     { return models.ErrInterpreter }
func (nopDecoder) InterpretIN(*cpu.Context, models.Instr) models.Status   { return models.RawEmulateInstr }
func (nopDecoder) InterpretOUT(*cpu.Context, models.Instr) models.Status  { return models.RawEmulateInstr }
func (nopDecoder) InterpretINS(*cpu.Context, models.Instr) models.Status  { return models.RawEmulateInstr }
func (nopDecoder) InterpretOUTS(*cpu.Context, models.Instr) models.Status { return models.RawEmulateInstr }

// nopFlusher covers the single-method collaborators.
type nopFlusher struct{}

func (nopFlusher) FlushPending() models.Status     { return models.Success }
func (nopFlusher) Process() models.Status          { return models.Success }
func (nopFlusher) Reset() models.Status            { return models.Reset }
func (nopFlusher) PendingInterrupt() (uint8, bool) { return 0, false }
func (nopFlusher) Pause()                          {}
func (nopFlusher) Resume()                         {}

type nopDebugger struct{}

func (nopDebugger) Event(models.DebugEvent) models.Status           { return models.ErrNotAttached }
func (nopDebugger) EventBreakpoint(models.DebugEvent) models.Status { return models.ErrNotAttached }
func (nopDebugger) EventAssertion(string) models.Status             { return models.ErrNotAttached }
func (nopDebugger) ForcedAction() models.Status                     { return models.Success }
