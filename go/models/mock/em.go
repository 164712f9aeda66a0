package mock

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Script hands out canned results in order, then Final forever.
type Script struct {
	Results []models.Status
	Final   models.Status
	Calls   int
}

func (s *Script) Next() models.Status {
	s.Calls++
	if len(s.Results) > 0 {
		rc := s.Results[0]
		s.Results = s.Results[1:]
		return rc
	}
	return s.Final
}

// Raw is a scripted raw engine. Hook runs inside every burst with the checked out context.
type Raw struct {
	Script
	Hook    func(ctx *cpu.Context)
	Resumed int
	TSS     int
}

func (r *Raw) RunBurst(ctx *cpu.Context) models.Status {
	if r.Hook != nil {
		r.Hook(ctx)
	}
	return r.Next()
}

func (r *Raw) ResumeHyper(*cpu.Context) models.Status { r.Resumed++; return models.Success }
func (r *Raw) CheckTSS(*cpu.Context)                  { r.TSS++ }

type Hw struct {
	Script
	Hook       func(ctx *cpu.Context)
	CanRun     bool
	Latched    bool
	IsActive   bool
	CheckedErr []models.Status
}

func (h *Hw) RunBurst(ctx *cpu.Context) models.Status {
	if h.Hook != nil {
		h.Hook(ctx)
	}
	return h.Next()
}

func (h *Hw) CanExecuteGuest(*cpu.Context) bool { return h.CanRun }
func (h *Hw) HasLatchedEvent() bool             { return h.Latched }
func (h *Hw) Active() bool                      { return h.IsActive }
func (h *Hw) CheckError(rc models.Status)       { h.CheckedErr = append(h.CheckedErr, rc) }

// Soft is a scripted software engine. Steps and bursts draw from separate scripts.
type Soft struct {
	Script
	Steps     Script
	Emulate   Script
	Hook      func()
	Pending   bool
	Inhibit   *uint32
	Synced    int
	SyncedBck int
	Notifies  int
	Replays   int
	Emulated  int
}

func (s *Soft) RunBurst() models.Status {
	if s.Hook != nil {
		s.Hook()
	}
	return s.Next()
}

func (s *Soft) EmulateInstruction(*cpu.Context) models.Status {
	s.Emulated++
	return s.Emulate.Next()
}

func (s *Soft) Sync(*cpu.Context) models.Status { s.Synced++; return models.Success }
func (s *Soft) SyncBack(*cpu.Context)           { s.SyncedBck++ }
func (s *Soft) Step() models.Status             { return s.Steps.Next() }
func (s *Soft) PendingInterrupt() bool          { return s.Pending }
func (s *Soft) ReplayHandlerNotifications()     { s.Notifies++ }
func (s *Soft) ReplayInvalidatedPages()         { s.Replays++ }

func (s *Soft) InhibitPC() (uint32, bool) {
	if s.Inhibit == nil {
		return 0, false
	}
	return *s.Inhibit, true
}

// Traps holds at most one pending trap, like the real trap manager.
type Traps struct {
	Pending   *models.Trap
	Injected  []models.Trap
	Handlers  map[uint8]bool
	Forwarded []models.Trap
	IDTSyncs  int
	Resets    int
}

func (t *Traps) HasTrap() bool { return t.Pending != nil }
func (t *Traps) ResetTrap()    { t.Pending = nil; t.Resets++ }

func (t *Traps) QueryTrap() (models.Trap, error) {
	if t.Pending == nil {
		return models.Trap{}, errors.WithStack(models.ErrNoTrap)
	}
	return *t.Pending, nil
}

func (t *Traps) InjectTrap(vector uint8, errCode uint32, kind models.TrapKind) models.Status {
	if t.Pending != nil {
		return models.ErrTooManyTraps
	}
	trap := models.Trap{Vector: vector, ErrCode: errCode, Kind: kind}
	t.Pending = &trap
	t.Injected = append(t.Injected, trap)
	return models.Success
}

func (t *Traps) GuestTrapHandler(vector uint8) bool { return t.Handlers[vector] }
func (t *Traps) SyncIDT() models.Status             { t.IDTSyncs++; return models.Success }

func (t *Traps) ForwardTrap(ctx *cpu.Context, trap models.Trap) models.Status {
	t.Forwarded = append(t.Forwarded, trap)
	return models.Success
}

// Patches treats [Base, Base+Size) as patch memory. Patch addresses translate back to the guest by
// subtracting Base and adding Guest.
type Patches struct {
	On         bool
	Base, Size uint32
	Guest      uint32
	Jump       bool
	Raw        bool
	VirtIF     *bool
	Trap       models.Status
	Int3       bool
	Installed  []uint32
	InstallErr error
	Removed    []uint32
	Dups       int
	Monitored  int
}

func (p *Patches) Enabled() bool                        { return p.On }
func (p *Patches) IsPatchAddr(pc uint32) bool           { return p.Size != 0 && pc >= p.Base && pc-p.Base < p.Size }
func (p *Patches) ShouldUseRawMode(uint32) bool         { return p.Raw }
func (p *Patches) IsInsidePatchJump(uint32) bool        { return p.Jump }
func (p *Patches) IsInt3Patch(uint32) bool              { return p.Int3 }
func (p *Patches) DuplicateFunction(*cpu.Context) error { p.Dups++; return nil }
func (p *Patches) HandleMonitoredPage() error           { p.Monitored++; return nil }

func (p *Patches) PatchToGuest(pc uint32) (uint32, bool) {
	if !p.IsPatchAddr(pc) {
		return 0, false
	}
	return pc - p.Base + p.Guest, true
}

func (p *Patches) HandleTrap(ctx *cpu.Context, pc uint32) (models.Status, uint32) {
	guest, _ := p.PatchToGuest(pc)
	return p.Trap, guest
}

func (p *Patches) InstallPatch(flat uint32, flags models.PatchFlags) error {
	if p.InstallErr != nil {
		return p.InstallErr
	}
	p.Installed = append(p.Installed, flat)
	return nil
}

func (p *Patches) RemovePatch(pc uint32) error {
	p.Removed = append(p.Removed, pc)
	return nil
}

func (p *Patches) InterruptsEnabled(ctx *cpu.Context) bool {
	if p.VirtIF != nil {
		return *p.VirtIF
	}
	return ctx.IF()
}

type Scanner struct {
	Scanned []uint32
	Actions int
	Gates   []uint8
}

func (s *Scanner) ScanCode(ctx *cpu.Context, pc uint32) { s.Scanned = append(s.Scanned, pc) }
func (s *Scanner) DoPendingAction()                     { s.Actions++ }
func (s *Scanner) CheckGates(vector uint8, n int)       { s.Gates = append(s.Gates, vector) }

// Sync covers both descriptor and page synchronization. Prefetch draws from its own script.
type Sync struct {
	Tables, TSS, CR3 int
	Global           []bool
	Prefetch         Script
	Handy            int
	Modes            int
	Fail             models.Status
}

func (s *Sync) SyncDescriptorTables(*cpu.Context) models.Status       { s.Tables++; return s.Fail }
func (s *Sync) SyncTSS(*cpu.Context) models.Status                    { s.TSS++; return s.Fail }
func (s *Sync) PrefetchPage(uint32) models.Status                     { return s.Prefetch.Next() }
func (s *Sync) AllocateReservePages() models.Status                   { s.Handy++; return models.Success }
func (s *Sync) ChangeMode(cr0, cr4 uint32, efer uint64) models.Status { s.Modes++; return models.Success }

func (s *Sync) SyncPageDirectory(cr0, cr3, cr4 uint32, global bool) models.Status {
	s.CR3++
	s.Global = append(s.Global, global)
	return s.Fail
}

// Decoder returns Instr for every decode. Interpret results come from Script.
type Decoder struct {
	Script
	Instr       models.Instr
	Err         error
	Interpreted []models.Instr
}

func (d *Decoder) Decode(*cpu.Context) (models.Instr, error) {
	if d.Err != nil {
		return models.Instr{}, d.Err
	}
	return d.Instr, nil
}

func (d *Decoder) interpret(in models.Instr) models.Status {
	d.Interpreted = append(d.Interpreted, in)
	return d.Next()
}

func (d *Decoder) Interpret(_ *cpu.Context, in models.Instr) models.Status     { return d.interpret(in) }
func (d *Decoder) InterpretIN(_ *cpu.Context, in models.Instr) models.Status   { return d.interpret(in) }
func (d *Decoder) InterpretOUT(_ *cpu.Context, in models.Instr) models.Status  { return d.interpret(in) }
func (d *Decoder) InterpretINS(_ *cpu.Context, in models.Instr) models.Status  { return d.interpret(in) }
func (d *Decoder) InterpretOUTS(_ *cpu.Context, in models.Instr) models.Status { return d.interpret(in) }

// Controller hands out Vectors in order and drops Flag once it runs dry.
type Controller struct {
	FF      *models.ForcedActions
	Flag    models.FF
	Vectors []uint8
}

func (c *Controller) PendingInterrupt() (uint8, bool) {
	if len(c.Vectors) == 0 {
		return 0, false
	}
	vec := c.Vectors[0]
	c.Vectors = c.Vectors[1:]
	if len(c.Vectors) == 0 && c.FF != nil {
		c.FF.Clear(c.Flag)
	}
	return vec, true
}

// Flusher counts calls. Hook runs on every call, Result is returned.
type Flusher struct {
	Calls  int
	Result models.Status
	Hook   func()
}

func (f *Flusher) call() models.Status {
	f.Calls++
	if f.Hook != nil {
		f.Hook()
	}
	return f.Result
}

func (f *Flusher) FlushPending() models.Status { return f.call() }
func (f *Flusher) Process() models.Status      { return f.call() }
func (f *Flusher) Reset() models.Status        { return f.call() }

type Debugger struct {
	Script
	Events     []models.DebugEvent
	Assertions []string
	Polls      int
	Poll       models.Status
	PollHook   func()
}

func (d *Debugger) Event(kind models.DebugEvent) models.Status {
	d.Events = append(d.Events, kind)
	return d.Next()
}

func (d *Debugger) EventBreakpoint(kind models.DebugEvent) models.Status {
	d.Events = append(d.Events, kind)
	return d.Next()
}

func (d *Debugger) EventAssertion(msg string) models.Status {
	d.Assertions = append(d.Assertions, msg)
	return d.Next()
}

func (d *Debugger) ForcedAction() models.Status {
	d.Polls++
	if d.PollHook != nil {
		d.PollHook()
	}
	return d.Poll
}

// Clock tracks pause depth.
type Clock struct {
	Pauses, Resumes int
}

func (c *Clock) Pause()        { c.Pauses++ }
func (c *Clock) Resume()       { c.Resumes++ }
func (c *Clock) Running() bool { return c.Resumes > c.Pauses }
