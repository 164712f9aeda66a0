package unicorn

import (
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/vmsched/go/cpu/x86"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

var syncRegs = []int{
	uc.X86_REG_EAX, uc.X86_REG_ECX, uc.X86_REG_EDX, uc.X86_REG_EBX,
	uc.X86_REG_ESP, uc.X86_REG_EBP, uc.X86_REG_ESI, uc.X86_REG_EDI,
	uc.X86_REG_CR0, uc.X86_REG_CR2, uc.X86_REG_CR3, uc.X86_REG_CR4,
	uc.X86_REG_EFLAGS, uc.X86_REG_EIP,
}

var segRegs = []int{uc.X86_REG_CS, uc.X86_REG_SS, uc.X86_REG_DS, uc.X86_REG_ES, uc.X86_REG_FS, uc.X86_REG_GS}

func regPtrs(c *cpu.Context) []*uint32 {
	return []*uint32{
		&c.EAX, &c.ECX, &c.EDX, &c.EBX, &c.ESP, &c.EBP, &c.ESI, &c.EDI,
		&c.CR0, &c.CR2, &c.CR3, &c.CR4, &c.EFlags, &c.EIP,
	}
}

func segPtrs(c *cpu.Context) []*cpu.Segment {
	return []*cpu.Segment{&c.CS, &c.SS, &c.DS, &c.ES, &c.FS, &c.GS}
}

func (e *Engine) writeTable(reg int, t cpu.Table) error {
	return e.RegWriteMmr(reg, &uc.X86Mmr{Base: uint64(t.Base), Limit: uint32(t.Limit)})
}

func (e *Engine) readTable(reg int) (cpu.Table, error) {
	mmr, err := e.RegReadMmr(reg)
	if err != nil {
		return cpu.Table{}, err
	}
	return cpu.Table{Base: uint32(mmr.Base), Limit: uint16(mmr.Limit)}, nil
}

// Sync loads ctx into the engine, delivering any queued trap first.
func (e *Engine) Sync(ctx *cpu.Context) models.Status {
	if e.traps != nil {
		if err := e.traps.DeliverPending(ctx); err != nil {
			e.log.Error().Err(err).Stringer("ctx", ctx).Msg("trap delivery failed")
			return models.ErrSyncFailed
		}
	}
	if err := e.load(ctx); err != nil {
		e.log.Error().Err(err).Msg("sync")
		return models.ErrSyncFailed
	}
	return models.Success
}

func (e *Engine) load(ctx *cpu.Context) error {
	ptrs := regPtrs(ctx)
	vals := make([]uint64, len(ptrs))
	for i, p := range ptrs {
		vals[i] = uint64(*p)
	}
	// the descriptor tables and cr0 decide how selectors load, so they go first
	if err := e.writeTable(uc.X86_REG_GDTR, ctx.GDTR); err != nil {
		return errors.Wrap(err, "gdtr")
	}
	if err := e.writeTable(uc.X86_REG_IDTR, ctx.IDTR); err != nil {
		return errors.Wrap(err, "idtr")
	}
	if err := e.RegWriteBatch(syncRegs, vals); err != nil {
		return errors.Wrap(err, "RegWriteBatch() failed")
	}
	old := segPtrs(&e.shadow)
	for i, seg := range segPtrs(ctx) {
		if e.loaded && seg.Sel == old[i].Sel {
			continue
		}
		if err := e.RegWrite(segRegs[i], uint64(seg.Sel)); err != nil {
			return errors.Wrapf(err, "selector %#x", seg.Sel)
		}
	}
	e.shadow = *ctx
	e.loaded = true
	e.inhibit = noUntil
	if e.ff.IsSet(models.FF_INHIBIT_INTERRUPTS) {
		e.inhibit = uint64(ctx.EIP + ctx.CS.Base)
	}
	return nil
}

// SyncBack copies the engine's registers into ctx, reloading segment caches whose selector changed.
func (e *Engine) SyncBack(ctx *cpu.Context) {
	vals, err := e.RegReadBatch(syncRegs)
	if err != nil {
		e.log.Error().Err(err).Msg("RegReadBatch() failed")
		return
	}
	for i, p := range regPtrs(ctx) {
		*p = uint32(vals[i])
	}
	if t, err := e.readTable(uc.X86_REG_GDTR); err == nil {
		ctx.GDTR = t
	}
	if t, err := e.readTable(uc.X86_REG_IDTR); err == nil {
		ctx.IDTR = t
	}
	sels, err := e.RegReadBatch(segRegs)
	if err != nil {
		e.log.Error().Err(err).Msg("RegReadBatch() failed")
		return
	}
	for i, seg := range segPtrs(ctx) {
		sel := uint16(sels[i])
		if sel == seg.Sel && e.loaded {
			continue
		}
		cache, err := x86.LoadSegment(e, ctx, sel)
		if err != nil {
			e.log.Debug().Err(err).Uint16("sel", sel).Msg("segment cache")
			cache = cpu.Segment{Sel: sel}
		}
		*seg = cache
	}
	e.shadow = *ctx
	e.loaded = true
}

// run executes up to count instructions from the engine's current eip.
func (e *Engine) run(count uint64) models.Status {
	eip, err := e.RegRead(uc.X86_REG_EIP)
	if err != nil {
		e.log.Error().Err(err).Msg("eip")
		return models.ErrInternal
	}
	efl, _ := e.RegRead(uc.X86_REG_EFLAGS)
	start := eip
	// cs base comes from the last sync; the hooks see linear addresses
	start += uint64(e.shadow.CS.Base)

	e.stop = models.Success
	e.skipBP = start
	e.trap = nil
	e.memErr = nil
	e.haltPC = noUntil
	err = e.StartWithOptions(eip, noUntil, &uc.UcOptions{Count: count})

	switch {
	case e.memErr != nil:
		e.log.Error().Err(e.memErr).Uint64("pc", e.lastPC).Msg("guest memory fault")
		return models.ErrInternal
	case err != nil:
		e.log.Error().Err(err).Uint64("pc", e.lastPC).Uint64("eflags", efl).Msg("emulation failed")
		return models.ErrInternal
	case e.trap != nil:
		return e.deliver(*e.trap)
	case e.stop == models.Halt:
		// the engine may or may not have retired the hlt already
		if now, err := e.RegRead(uc.X86_REG_EIP); err == nil && now+uint64(e.shadow.CS.Base) == e.haltPC {
			e.RegWrite(uc.X86_REG_EIP, now+1)
		}
	}
	return e.stop
}

// deliver pushes a trap raised inside the engine through the guest IDT.
func (e *Engine) deliver(trap models.Trap) models.Status {
	var ctx cpu.Context
	e.SyncBack(&ctx)
	if err := x86.Deliver(e, &ctx, trap); err != nil {
		e.log.Error().Err(err).Stringer("trap", trap).Stringer("ctx", &ctx).Msg("guest trap delivery failed")
		return models.ErrTrpmPanic
	}
	if err := e.load(&ctx); err != nil {
		e.log.Error().Err(err).Msg("sync after trap")
		return models.ErrSyncFailed
	}
	// entering a handler ends any shadow
	e.inhibit = noUntil
	return models.Success
}

func (e *Engine) RunBurst() models.Status {
	return e.run(e.cfg.BurstLimit)
}

func (e *Engine) Step() models.Status {
	return e.run(1)
}

func (e *Engine) EmulateInstruction(ctx *cpu.Context) models.Status {
	if rc := e.Sync(ctx); rc != models.Success {
		return rc
	}
	rc := e.Step()
	e.SyncBack(ctx)
	return rc
}

// InhibitPC reports the eip of an instruction in an interrupt shadow the last burst opened and
// did not get to run.
func (e *Engine) InhibitPC() (uint32, bool) {
	if e.inhibit == noUntil {
		return 0, false
	}
	eip, err := e.RegRead(uc.X86_REG_EIP)
	if err != nil || uint64(uint32(eip)+e.shadow.CS.Base) != e.inhibit {
		return 0, false
	}
	return uint32(eip), true
}

// PendingInterrupt reports a trap the next Sync will deliver.
func (e *Engine) PendingInterrupt() bool {
	return e.traps != nil && e.traps.HasTrap()
}

func (e *Engine) ReplayHandlerNotifications() {
	e.Notifies++
	e.log.Trace().Msg("handler notifications")
}

// ReplayInvalidatedPages is a no-op: the engine drops its translations itself on cr3 writes.
func (e *Engine) ReplayInvalidatedPages() {
	e.Replays++
	e.log.Trace().Msg("invalidated pages")
}
