package unicorn

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/vmsched/go/cpu/x86"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// pc values are 32 bits wide, so the engine never reaches this
const noUntil = 1 << 32

// flags that end a burst early; interrupts only count while the guest can take them
const stopMask = models.ExternalHaltMask | models.InterruptMask

// Engine is the software execution engine: unicorn running the guest with a private copy of its
// registers between Sync and SyncBack. Guest physical memory lives in unicorn, so the engine
// doubles as x86.PhysMem for everything else.
type Engine struct {
	uc.Unicorn
	cfg   *models.Config
	ff    *models.ForcedActions
	ports x86.Ports
	bps   *models.Breakpoints
	traps *x86.Traps
	log   zerolog.Logger

	// the context as of the last Sync or SyncBack
	shadow cpu.Context
	loaded bool

	// burst state, written by hooks
	stop    models.Status
	skipBP  uint64
	lastPC  uint64
	haltPC  uint64
	inhibit uint64
	trap    *models.Trap
	memErr  error

	Notifies, Replays int
}

func New(cfg *models.Config, ff *models.ForcedActions, ports x86.Ports, bps *models.Breakpoints, log zerolog.Logger) (*Engine, error) {
	u, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	if err := u.MemMap(0, cfg.MemSize); err != nil {
		u.Close()
		return nil, errors.Wrapf(err, "mapping %#x bytes of guest memory", cfg.MemSize)
	}
	if bps == nil {
		bps = &models.Breakpoints{}
	}
	e := &Engine{
		Unicorn: u,
		cfg:     cfg,
		ff:      ff,
		ports:   ports,
		bps:     bps,
		inhibit: noUntil,
		log:     log.With().Str("component", "rem").Logger(),
	}
	if err := e.hook(); err != nil {
		u.Close()
		return nil, err
	}
	return e, nil
}

// SetTraps wires the trap manager the engine delivers through. It is set after New because
// the trap manager reads guest memory through the engine.
func (e *Engine) SetTraps(t *x86.Traps) { e.traps = t }

func (e *Engine) Breakpoints() *models.Breakpoints { return e.bps }

func (e *Engine) hook() error {
	var err error
	add := func(htype int, cb interface{}, extra ...int) {
		if err == nil {
			_, err = e.HookAdd(htype, cb, 1, 0, extra...)
		}
	}
	add(uc.HOOK_CODE, e.onCode)
	add(uc.HOOK_INTR, e.onIntr)
	add(uc.HOOK_MEM_INVALID, e.onMemInvalid)
	add(uc.HOOK_INSN, func(_ uc.Unicorn, port, size uint32) uint32 {
		val, err := e.ports.In(uint16(port), int(size))
		if err != nil {
			e.log.Warn().Err(err).Msg("port read")
			return 0xffffffff
		}
		return val
	}, uc.X86_INS_IN)
	add(uc.HOOK_INSN, func(_ uc.Unicorn, port, size, val uint32) {
		if err := e.ports.Out(uint16(port), int(size), val); err != nil {
			e.log.Warn().Err(err).Msg("port write")
		}
	}, uc.X86_INS_OUT)
	return errors.Wrap(err, "HookAdd() failed")
}

func (e *Engine) halt(rc models.Status) {
	if e.stop == models.Success {
		e.stop = rc
	}
	e.Stop()
}

func (e *Engine) onCode(_ uc.Unicorn, addr uint64, size uint32) {
	e.lastPC = addr
	shadowed := addr == e.inhibit
	e.inhibit = noUntil
	if addr == e.skipBP {
		e.skipBP = noUntil
	} else if e.bps.Len() > 0 && e.bps.Hit(uint32(addr)) {
		e.halt(models.DbgBreakpoint)
		return
	}
	if e.ff.Pending(stopMask) {
		if e.ff.Pending(stopMask&^models.InterruptMask) || (!shadowed && e.interruptible()) {
			e.halt(models.RemInterruptedFF)
			return
		}
	}
	n := size
	if n > 2 {
		n = 2
	}
	b, err := e.MemRead(addr, uint64(n))
	if err != nil {
		return
	}
	switch {
	case size == 1 && b[0] == 0xf4:
		e.haltPC = addr
		e.halt(models.Halt)
	case opensShadow(b):
		e.inhibit = addr + uint64(size)
	}
}

// opensShadow matches sti, pop ss and mov ss, which hold interrupts off for one more instruction.
func opensShadow(b []byte) bool {
	switch b[0] {
	case 0xfb, 0x17:
		return true
	case 0x8e:
		return len(b) > 1 && (b[1]>>3)&7 == 2
	}
	return false
}

func (e *Engine) interruptible() bool {
	efl, err := e.RegRead(uc.X86_REG_EFLAGS)
	return err == nil && efl&cpu.EFL_IF != 0
}

func (e *Engine) onIntr(_ uc.Unicorn, intno uint32) {
	kind := models.TrapHardwareInt
	if intno < 32 {
		kind = models.TrapException
	}
	if b, err := e.MemRead(e.lastPC, 1); err == nil {
		switch b[0] {
		case 0xcc, 0xcd, 0xce:
			kind = models.TrapSoftwareInt
		}
	}
	trap := &models.Trap{Vector: uint8(intno), Kind: kind, ErrCode: cpu.NoErrorCode}
	if kind == models.TrapException {
		switch intno {
		// the engine doesn't report error codes
		case 8, 10, 11, 12, 13, 14, 17:
			trap.ErrCode = 0
		}
		if intno == cpu.XCPT_PF {
			cr2, _ := e.RegRead(uc.X86_REG_CR2)
			trap.CR2 = uint32(cr2)
		}
	}
	e.trap = trap
	e.halt(models.Success)
}

func (e *Engine) onMemInvalid(_ uc.Unicorn, access int, addr uint64, size int, val int64) bool {
	e.memErr = errors.Errorf("invalid memory access type %d at %#x+%d", access, addr, size)
	return false
}

// Close frees the engine. The engine can't be used afterwards.
func (e *Engine) Close() error {
	return e.Unicorn.Close()
}
