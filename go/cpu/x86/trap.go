package x86

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Traps holds the one trap queued for the guest and delivers it through the guest's IDT.
type Traps struct {
	mu      sync.Mutex
	mem     PhysMem
	guest   *cpu.Context
	pending *models.Trap
	log     zerolog.Logger
}

// NewTraps reads gates through guest, which must be the context the scheduler owns.
func NewTraps(mem PhysMem, guest *cpu.Context, log zerolog.Logger) *Traps {
	return &Traps{mem: mem, guest: guest, log: log.With().Str("component", "trap").Logger()}
}

func (t *Traps) HasTrap() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *Traps) QueryTrap() (models.Trap, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return models.Trap{}, errors.New("no trap pending")
	}
	return *t.pending, nil
}

func (t *Traps) InjectTrap(vector uint8, errCode uint32, kind models.TrapKind) models.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.log.Warn().Stringer("pending", t.pending).Uint8("vector", vector).Msg("trap already pending")
		return models.ErrTooManyTraps
	}
	t.pending = &models.Trap{Vector: vector, ErrCode: errCode, Kind: kind}
	return models.Success
}

// InjectFault queues a page fault with its faulting address.
func (t *Traps) InjectFault(pf *PageFault) models.Status {
	rc := t.InjectTrap(cpu.XCPT_PF, pf.Code, models.TrapException)
	if rc == models.Success {
		t.mu.Lock()
		t.pending.CR2 = pf.Addr
		t.mu.Unlock()
	}
	return rc
}

func (t *Traps) ResetTrap() {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
}

func (t *Traps) GuestTrapHandler(vector uint8) bool {
	if !t.guest.Protected() {
		return true
	}
	g, err := ReadGate(t.mem, t.guest, vector)
	return err == nil && g.Present && (g.Type == GateInt32 || g.Type == GateTrap32)
}

func (t *Traps) ForwardTrap(ctx *cpu.Context, trap models.Trap) models.Status {
	if err := Deliver(t.mem, ctx, trap); err != nil {
		t.log.Debug().Err(err).Stringer("trap", trap).Msg("forward failed")
		return models.RawGuestTrap
	}
	return models.Success
}

// SyncIDT checks that the guest IDT can be read.
func (t *Traps) SyncIDT() models.Status {
	if !t.guest.Protected() {
		return models.Success
	}
	if _, err := ReadGate(t.mem, t.guest, 0); err != nil {
		t.log.Debug().Err(err).Msg("idt sync")
		return models.ErrSyncFailed
	}
	return models.Success
}

// DeliverPending delivers and drops the queued trap, if any.
func (t *Traps) DeliverPending(ctx *cpu.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return nil
	}
	if err := Deliver(t.mem, ctx, *t.pending); err != nil {
		return err
	}
	t.pending = nil
	return nil
}

func push(mem PhysMem, ctx *cpu.Context, vals []uint32, size int) error {
	buf := make([]byte, len(vals)*size)
	// vals are in push order, so the last one ends up lowest
	for i, v := range vals {
		off := (len(vals) - 1 - i) * size
		if size == 2 {
			binary.LittleEndian.PutUint16(buf[off:], uint16(v))
		} else {
			binary.LittleEndian.PutUint32(buf[off:], v)
		}
	}
	sp := ctx.ESP - uint32(len(buf))
	if !ctx.SS.DefBig {
		sp = ctx.ESP&^0xffff | (ctx.ESP-uint32(len(buf)))&0xffff
	}
	saved := ctx.ESP
	ctx.ESP = sp
	if err := writeLinear(mem, ctx, ctx.FlatSP(), buf, false); err != nil {
		ctx.ESP = saved
		return err
	}
	return nil
}

// Deliver dispatches trap to the guest handler without a privilege change.
func Deliver(mem PhysMem, ctx *cpu.Context, trap models.Trap) error {
	if ctx.IsV86() {
		return errors.New("v86 delivery is not supported")
	}
	if !ctx.Protected() {
		b, err := mem.MemRead(uint64(trap.Vector)*4, 4)
		if err != nil {
			return errors.Wrap(err, "ivt")
		}
		if err := push(mem, ctx, []uint32{ctx.EFlags, uint32(ctx.CS.Sel), ctx.EIP & 0xffff}, 2); err != nil {
			return err
		}
		seg := binary.LittleEndian.Uint16(b[2:])
		ctx.CS = cpu.Segment{Sel: seg, Base: uint32(seg) << 4, Limit: 0xffff}
		ctx.EIP = uint32(binary.LittleEndian.Uint16(b))
		ctx.ClearFlags(cpu.EFL_IF | cpu.EFL_TF)
		return nil
	}

	gate, err := ReadGate(mem, ctx, trap.Vector)
	if err != nil {
		return err
	}
	switch {
	case !gate.Present:
		return errors.Errorf("gate %#x not present", trap.Vector)
	case gate.Type != GateInt32 && gate.Type != GateTrap32:
		return errors.Errorf("gate %#x has unsupported type %#x", trap.Vector, gate.Type)
	case trap.Kind == models.TrapSoftwareInt && gate.DPL < ctx.CPL():
		return errors.Errorf("gate %#x dpl %d below cpl %d", trap.Vector, gate.DPL, ctx.CPL())
	case uint8(gate.Selector&cpu.SEL_RPL) != ctx.CPL():
		return errors.Errorf("gate %#x needs a privilege change", trap.Vector)
	}
	cs, err := LoadSegment(mem, ctx, gate.Selector)
	if err != nil {
		return err
	}
	frame := []uint32{ctx.EFlags, uint32(ctx.CS.Sel), ctx.EIP}
	if trap.Kind == models.TrapException && trap.HasErrCode() {
		frame = append(frame, trap.ErrCode)
	}
	if err := push(mem, ctx, frame, 4); err != nil {
		return err
	}
	if trap.Vector == cpu.XCPT_PF {
		ctx.CR2 = trap.CR2
	}
	ctx.CS = cs
	ctx.EIP = gate.Offset
	ctx.ClearFlags(cpu.EFL_TF | cpu.EFL_NT | cpu.EFL_RF)
	if gate.Type == GateInt32 {
		ctx.ClearFlags(cpu.EFL_IF)
	}
	return nil
}
