package unicorn

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/cpu/x86"
	"github.com/lunixbochs/vmsched/go/dev"
	"github.com/lunixbochs/vmsched/go/loader"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

const (
	codeAddr = 0x1000
	idtAddr  = 0x2000
	handler  = 0x3000
)

type rig struct {
	e       *Engine
	ctx     *cpu.Context
	ff      *models.ForcedActions
	traps   *x86.Traps
	console bytes.Buffer
}

func newRig(t *testing.T, code ...byte) *rig {
	cfg := models.DefaultConfig()
	cfg.MemSize = 1 << 20
	r := &rig{ctx: &cpu.Context{}, ff: &models.ForcedActions{}}
	ports := dev.NewPortBus(zerolog.Nop())
	require.NoError(t, ports.Register("console", dev.ConsolePort, 1, dev.NewConsole(&r.console)))

	e, err := New(cfg, r.ff, ports, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	r.e = e
	r.traps = x86.NewTraps(e, r.ctx, zerolog.Nop())
	e.SetTraps(r.traps)

	l, err := loader.Load(code, codeAddr, 0)
	require.NoError(t, err)
	require.NoError(t, e.Boot(r.ctx, l))
	return r
}

// gate installs a 32-bit interrupt gate to a hlt at handler.
func (r *rig) gate(t *testing.T, vector uint8) {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:], 0x08<<16|handler&0xffff)
	binary.LittleEndian.PutUint32(b[4:], handler&0xffff0000|1<<15|x86.GateInt32<<8)
	require.NoError(t, r.e.MemWrite(idtAddr+uint64(vector)*8, b[:]))
	require.NoError(t, r.e.MemWrite(handler, []byte{0xf4}))
	r.ctx.IDTR = cpu.Table{Base: idtAddr, Limit: 0x7ff}
}

func (r *rig) sync(t *testing.T) {
	require.Equal(t, models.Success, r.e.Sync(r.ctx))
}

func TestBoot(t *testing.T) {
	r := newRig(t, 0xf4)
	require.Equal(t, uint32(codeAddr), r.ctx.EIP)
	require.Equal(t, uint32(1<<20), r.ctx.ESP)
	require.True(t, r.ctx.Is32Bit())
	require.False(t, r.ctx.Paging())

	l, err := loader.Load(make([]byte, 0x10), bootGDT, 0)
	require.NoError(t, err)
	require.Error(t, r.e.Boot(r.ctx, l), "image over the boot gdt")
}

func TestConsoleAndHalt(t *testing.T) {
	// mov al, 'h'; out 0xe9, al; mov al, 'i'; out 0xe9, al; hlt
	r := newRig(t, 0xb0, 'h', 0xe6, 0xe9, 0xb0, 'i', 0xe6, 0xe9, 0xf4)
	r.sync(t)
	require.Equal(t, models.Halt, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, "hi", r.console.String())
	require.Equal(t, uint32(codeAddr+9), r.ctx.EIP, "eip is past the hlt")
	require.Equal(t, uint16(0x08), r.ctx.CS.Sel)
	require.True(t, r.ctx.CS.DefBig)
}

func TestStep(t *testing.T) {
	// inc eax; inc eax; hlt
	r := newRig(t, 0x40, 0x40, 0xf4)
	r.sync(t)
	require.Equal(t, models.Success, r.e.Step())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(1), r.ctx.EAX)
	require.Equal(t, uint32(codeAddr+1), r.ctx.EIP)

	r.ctx.EAX = 10
	require.Equal(t, models.Success, r.e.EmulateInstruction(r.ctx))
	require.Equal(t, uint32(11), r.ctx.EAX)
	require.Equal(t, uint32(codeAddr+2), r.ctx.EIP)
}

func TestBreakpoint(t *testing.T) {
	r := newRig(t, 0x40, 0x40, 0x40, 0xf4)
	_, err := r.e.Breakpoints().Add("0x1002")
	require.NoError(t, err)
	r.sync(t)
	require.Equal(t, models.DbgBreakpoint, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(codeAddr+2), r.ctx.EIP)
	require.Equal(t, uint32(2), r.ctx.EAX)

	// resuming at the breakpoint runs it
	require.Equal(t, models.Halt, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(3), r.ctx.EAX)
}

func TestForcedActionStopsBurst(t *testing.T) {
	r := newRig(t, 0x40, 0xf4)
	r.sync(t)
	r.ff.Set(models.FF_TIMER)
	require.Equal(t, models.RemInterruptedFF, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(codeAddr), r.ctx.EIP)

	// masked interrupts don't stop it
	r.ff.Clear(models.FF_TIMER)
	r.ff.Set(models.FF_INTERRUPT_PIC)
	require.Equal(t, models.Halt, r.e.RunBurst())
}

func TestInterruptShadow(t *testing.T) {
	// sti; hlt takes no interrupt before the hlt
	r := newRig(t, 0xfb, 0xf4)
	r.sync(t)
	r.ff.Set(models.FF_INTERRUPT_PIC)
	require.Equal(t, models.Halt, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(codeAddr+2), r.ctx.EIP)
	_, ok := r.e.InhibitPC()
	require.False(t, ok, "the shadow ended with the hlt")

	// sti; nop; nop stops after the first nop
	r = newRig(t, 0xfb, 0x90, 0x90, 0xf4)
	r.sync(t)
	r.ff.Set(models.FF_INTERRUPT_PIC)
	require.Equal(t, models.RemInterruptedFF, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(codeAddr+2), r.ctx.EIP)
	require.True(t, r.ctx.IF())
}

func TestInterruptShadowStep(t *testing.T) {
	// sti; nop
	r := newRig(t, 0xfb, 0x90)
	r.sync(t)
	require.Equal(t, models.Success, r.e.Step())
	r.e.SyncBack(r.ctx)
	pc, ok := r.e.InhibitPC()
	require.True(t, ok)
	require.Equal(t, uint32(codeAddr+1), pc)

	// a sync with the flag raised keeps the shadow over the nop
	r.ff.Set(models.FF_INHIBIT_INTERRUPTS | models.FF_INTERRUPT_PIC)
	r.sync(t)
	require.Equal(t, models.Success, r.e.Step())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(codeAddr+2), r.ctx.EIP)
}

func TestOpensShadow(t *testing.T) {
	require.True(t, opensShadow([]byte{0xfb}))
	require.True(t, opensShadow([]byte{0x17}))
	require.True(t, opensShadow([]byte{0x8e, 0xd0}), "mov ss, ax")
	require.False(t, opensShadow([]byte{0x8e, 0xd8}), "mov ds, ax")
	require.False(t, opensShadow([]byte{0x8e}))
	require.False(t, opensShadow([]byte{0xfa}))
}

func TestSoftwareInterrupt(t *testing.T) {
	// int 0x30; hlt
	r := newRig(t, 0xcd, 0x30, 0xf4)
	r.gate(t, 0x30)
	r.sync(t)
	require.Equal(t, models.Success, r.e.RunBurst(), "delivery ends the burst")
	require.Equal(t, models.Halt, r.e.RunBurst())
	r.e.SyncBack(r.ctx)
	require.Equal(t, uint32(handler+1), r.ctx.EIP)

	ret, err := r.e.MemRead(uint64(r.ctx.ESP), 4)
	require.NoError(t, err)
	require.Equal(t, uint32(codeAddr+2), binary.LittleEndian.Uint32(ret), "return address is after the int")
}

func TestSyncDeliversPendingTrap(t *testing.T) {
	r := newRig(t, 0x90)
	r.gate(t, 0x20)
	r.ctx.SetFlags(cpu.EFL_IF)
	require.Equal(t, models.Success, r.traps.InjectTrap(0x20, cpu.NoErrorCode, models.TrapHardwareInt))
	require.True(t, r.e.PendingInterrupt())
	r.sync(t)
	require.False(t, r.e.PendingInterrupt())
	require.Equal(t, uint32(handler), r.ctx.EIP)
	require.False(t, r.ctx.IF())
}

func TestSyncFailsWithoutGate(t *testing.T) {
	r := newRig(t, 0x90)
	require.Equal(t, models.Success, r.traps.InjectTrap(0x20, cpu.NoErrorCode, models.TrapHardwareInt))
	require.Equal(t, models.ErrSyncFailed, r.e.Sync(r.ctx))
}

func TestMemoryFault(t *testing.T) {
	// mov eax, [0x7ffffff0]
	r := newRig(t, 0xa1, 0xf0, 0xff, 0xff, 0x7f)
	r.sync(t)
	require.Equal(t, models.ErrInternal, r.e.RunBurst())
}
