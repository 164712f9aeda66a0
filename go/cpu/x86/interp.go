package x86

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/arch/x86/x86asm"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Ports is the guest io port space.
type Ports interface {
	In(port uint16, size int) (uint32, error)
	Out(port uint16, size int, val uint32) error
}

var errUnsupported = errors.New("unsupported operand")

// Interp executes the handful of instructions worth doing without the emulator.
// Anything it can't do, including anything that faults, is left to the emulator.
type Interp struct {
	mem   PhysMem
	ports Ports
	traps *Traps
	dr    [8]uint32
	log   zerolog.Logger
}

func NewInterp(mem PhysMem, ports Ports, traps *Traps, log zerolog.Logger) *Interp {
	return &Interp{mem: mem, ports: ports, traps: traps, log: log.With().Str("component", "interp").Logger()}
}

func gprs(ctx *cpu.Context) [8]*uint32 {
	return [8]*uint32{&ctx.EAX, &ctx.ECX, &ctx.EDX, &ctx.EBX, &ctx.ESP, &ctx.EBP, &ctx.ESI, &ctx.EDI}
}

// gpr maps a general purpose register to its backing word, bit offset and width in bytes.
func gpr(ctx *cpu.Context, r x86asm.Reg) (p *uint32, shift uint, size int, ok bool) {
	regs := gprs(ctx)
	switch {
	case r >= x86asm.EAX && r <= x86asm.EDI:
		return regs[r-x86asm.EAX], 0, 4, true
	case r >= x86asm.AX && r <= x86asm.DI:
		return regs[r-x86asm.AX], 0, 2, true
	case r >= x86asm.AL && r <= x86asm.BL:
		return regs[r-x86asm.AL], 0, 1, true
	case r >= x86asm.AH && r <= x86asm.BH:
		return regs[r-x86asm.AH], 8, 1, true
	}
	return nil, 0, 0, false
}

func sizeMask(size int) uint32 {
	if size >= 4 {
		return 0xffffffff
	}
	return 1<<(uint(size)*8) - 1
}

func (x *Interp) crs(ctx *cpu.Context, r x86asm.Reg) *uint32 {
	switch r {
	case x86asm.CR0:
		return &ctx.CR0
	case x86asm.CR2:
		return &ctx.CR2
	case x86asm.CR3:
		return &ctx.CR3
	case x86asm.CR4:
		return &ctx.CR4
	}
	if r >= x86asm.DR0 && r <= x86asm.DR7 {
		return &x.dr[r-x86asm.DR0]
	}
	return nil
}

func segment(ctx *cpu.Context, r x86asm.Reg) *cpu.Segment {
	switch r {
	case x86asm.ES:
		return &ctx.ES
	case x86asm.CS:
		return &ctx.CS
	case x86asm.SS:
		return &ctx.SS
	case x86asm.FS:
		return &ctx.FS
	case x86asm.GS:
		return &ctx.GS
	}
	return &ctx.DS
}

func (x *Interp) linear(ctx *cpu.Context, m x86asm.Mem) (uint32, error) {
	var ea uint32
	seg := &ctx.DS
	if m.Base != 0 {
		p, _, size, ok := gpr(ctx, m.Base)
		if !ok || size != 4 {
			return 0, errUnsupported
		}
		ea += *p
		if m.Base == x86asm.ESP || m.Base == x86asm.EBP {
			seg = &ctx.SS
		}
	}
	if m.Index != 0 {
		p, _, size, ok := gpr(ctx, m.Index)
		if !ok || size != 4 {
			return 0, errUnsupported
		}
		ea += *p * uint32(m.Scale)
	}
	ea += uint32(m.Disp)
	if m.Segment != 0 {
		seg = segment(ctx, m.Segment)
	}
	return seg.Base + ea, nil
}

func regSize(r x86asm.Reg) int {
	switch {
	case r >= x86asm.EAX && r <= x86asm.EDI:
		return 4
	case r >= x86asm.AX && r <= x86asm.DI:
		return 2
	case r >= x86asm.AL && r <= x86asm.BH:
		return 1
	}
	return 0
}

func (x *Interp) argSize(in x86asm.Inst, a x86asm.Arg) int {
	switch a := a.(type) {
	case x86asm.Reg:
		if size := regSize(a); size != 0 {
			return size
		}
	case x86asm.Mem:
		return in.MemBytes
	}
	return in.DataSize / 8
}

func (x *Interp) read(ctx *cpu.Context, in x86asm.Inst, a x86asm.Arg, size int) (uint32, error) {
	switch a := a.(type) {
	case x86asm.Reg:
		p, shift, _, ok := gpr(ctx, a)
		if !ok {
			return 0, errUnsupported
		}
		return *p >> shift & sizeMask(size), nil
	case x86asm.Imm:
		return uint32(a) & sizeMask(size), nil
	case x86asm.Mem:
		addr, err := x.linear(ctx, a)
		if err != nil {
			return 0, err
		}
		b, err := ReadLinear(x.mem, ctx, addr, size)
		if err != nil {
			return 0, err
		}
		var buf [4]byte
		copy(buf[:], b)
		return binary.LittleEndian.Uint32(buf[:]), nil
	}
	return 0, errUnsupported
}

func (x *Interp) write(ctx *cpu.Context, in x86asm.Inst, a x86asm.Arg, size int, val uint32) error {
	switch a := a.(type) {
	case x86asm.Reg:
		p, shift, rsize, ok := gpr(ctx, a)
		if !ok {
			return errUnsupported
		}
		if rsize == 4 {
			*p = val
		} else {
			mask := sizeMask(rsize) << shift
			*p = *p&^mask | val<<shift&mask
		}
		return nil
	case x86asm.Mem:
		addr, err := x.linear(ctx, a)
		if err != nil {
			return err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], val)
		return WriteLinear(x.mem, ctx, addr, buf[:size])
	}
	return errUnsupported
}

func setZSP(ctx *cpu.Context, res uint32, size int) {
	res &= sizeMask(size)
	if res == 0 {
		ctx.SetFlags(cpu.EFL_ZF)
	}
	if res>>(uint(size)*8-1) != 0 {
		ctx.SetFlags(cpu.EFL_SF)
	}
	if bits.OnesCount8(uint8(res))%2 == 0 {
		ctx.SetFlags(cpu.EFL_PF)
	}
}

const eflAF = 1 << 4

func (x *Interp) Interpret(ctx *cpu.Context, in models.Instr) models.Status {
	inst, ok := in.Raw.(x86asm.Inst)
	if !ok {
		return models.ErrInterpreter
	}
	if err := x.interpret(ctx, inst); err != nil {
		if err != errUnsupported {
			x.log.Trace().Err(err).Str("instr", in.Text).Msg("interpret")
		}
		return models.ErrInterpreter
	}
	switch inst.Op {
	case x86asm.HLT, x86asm.MWAIT:
		return models.Halt
	}
	return models.Success
}

func (x *Interp) interpret(ctx *cpu.Context, inst x86asm.Inst) error {
	if inst.AddrSize != 32 {
		return errUnsupported
	}
	dst, src := inst.Args[0], inst.Args[1]
	switch inst.Op {
	case x86asm.HLT, x86asm.MONITOR, x86asm.MWAIT:
		return nil

	case x86asm.MOV:
		if r, ok := dst.(x86asm.Reg); ok {
			if p := x.crs(ctx, r); p != nil {
				sr, _ := src.(x86asm.Reg)
				s, _, _, ok := gpr(ctx, sr)
				if !ok {
					return errUnsupported
				}
				if r == x86asm.CR0 {
					*p = *s | cpu.CR0_ET
				} else {
					*p = *s
				}
				return nil
			}
		}
		if r, ok := src.(x86asm.Reg); ok {
			if p := x.crs(ctx, r); p != nil {
				dr, _ := dst.(x86asm.Reg)
				d, _, _, ok := gpr(ctx, dr)
				if !ok {
					return errUnsupported
				}
				*d = *p
				return nil
			}
		}
		size := x.argSize(inst, dst)
		val, err := x.read(ctx, inst, src, size)
		if err != nil {
			return err
		}
		return x.write(ctx, inst, dst, size, val)

	case x86asm.AND, x86asm.OR, x86asm.XOR:
		size := x.argSize(inst, dst)
		a, err := x.read(ctx, inst, dst, size)
		if err != nil {
			return err
		}
		b, err := x.read(ctx, inst, src, size)
		if err != nil {
			return err
		}
		var res uint32
		switch inst.Op {
		case x86asm.AND:
			res = a & b
		case x86asm.OR:
			res = a | b
		default:
			res = a ^ b
		}
		if err := x.write(ctx, inst, dst, size, res); err != nil {
			return err
		}
		ctx.ClearFlags(cpu.EFL_CF | cpu.EFL_OF | cpu.EFL_ZF | cpu.EFL_SF | cpu.EFL_PF)
		setZSP(ctx, res, size)
		return nil

	case x86asm.INC, x86asm.DEC:
		size := x.argSize(inst, dst)
		a, err := x.read(ctx, inst, dst, size)
		if err != nil {
			return err
		}
		res := a + 1
		if inst.Op == x86asm.DEC {
			res = a - 1
		}
		res &= sizeMask(size)
		if err := x.write(ctx, inst, dst, size, res); err != nil {
			return err
		}
		ctx.ClearFlags(cpu.EFL_OF | cpu.EFL_ZF | cpu.EFL_SF | cpu.EFL_PF | eflAF)
		sign := uint32(1) << (uint(size)*8 - 1)
		if inst.Op == x86asm.INC && res == sign || inst.Op == x86asm.DEC && a == sign {
			ctx.SetFlags(cpu.EFL_OF)
		}
		if (a^res)&0x10 != 0 {
			ctx.SetFlags(eflAF)
		}
		setZSP(ctx, res, size)
		return nil

	case x86asm.POP:
		size := inst.DataSize / 8
		if _, ok := dst.(x86asm.Mem); ok {
			// the address would be computed with the incremented esp
			return errUnsupported
		}
		b, err := ReadLinear(x.mem, ctx, ctx.FlatSP(), size)
		if err != nil {
			return err
		}
		var buf [4]byte
		copy(buf[:], b)
		if err := x.write(ctx, inst, dst, size, binary.LittleEndian.Uint32(buf[:])); err != nil {
			return err
		}
		if dst != x86asm.ESP {
			ctx.ESP += uint32(size)
		}
		return nil

	case x86asm.XCHG:
		size := x.argSize(inst, dst)
		a, err := x.read(ctx, inst, dst, size)
		if err != nil {
			return err
		}
		b, err := x.read(ctx, inst, src, size)
		if err != nil {
			return err
		}
		if err := x.write(ctx, inst, dst, size, b); err != nil {
			return err
		}
		return x.write(ctx, inst, src, size, a)
	}
	return errUnsupported
}

// ioAllowed raises #GP when the guest lacks io privilege. There is no io bitmap.
func (x *Interp) ioAllowed(ctx *cpu.Context) models.Status {
	if ctx.Protected() && (ctx.IsV86() || ctx.CPL() > ctx.IOPL()) {
		if rc := x.traps.InjectTrap(cpu.XCPT_GP, 0, models.TrapException); rc != models.Success {
			return rc
		}
		return models.RawGuestTrap
	}
	return models.Success
}

func (x *Interp) port(ctx *cpu.Context, a x86asm.Arg) (uint16, bool) {
	switch a := a.(type) {
	case x86asm.Imm:
		return uint16(a), true
	case x86asm.Reg:
		if a == x86asm.DX {
			return uint16(ctx.EDX), true
		}
	}
	return 0, false
}

func (x *Interp) InterpretIN(ctx *cpu.Context, in models.Instr) models.Status {
	inst, ok := in.Raw.(x86asm.Inst)
	if !ok || inst.Op != x86asm.IN {
		return models.RawEmulateInstr
	}
	if rc := x.ioAllowed(ctx); rc != models.Success {
		return rc
	}
	port, ok := x.port(ctx, inst.Args[1])
	if !ok {
		return models.RawEmulateInstr
	}
	size := x.argSize(inst, inst.Args[0])
	val, err := x.ports.In(port, size)
	if err != nil {
		x.log.Warn().Err(err).Msg("port read")
		val = sizeMask(size)
	}
	if err := x.write(ctx, inst, inst.Args[0], size, val); err != nil {
		return models.RawEmulateInstr
	}
	return models.Success
}

func (x *Interp) InterpretOUT(ctx *cpu.Context, in models.Instr) models.Status {
	inst, ok := in.Raw.(x86asm.Inst)
	if !ok || inst.Op != x86asm.OUT {
		return models.RawEmulateInstr
	}
	if rc := x.ioAllowed(ctx); rc != models.Success {
		return rc
	}
	port, ok := x.port(ctx, inst.Args[0])
	if !ok {
		return models.RawEmulateInstr
	}
	size := x.argSize(inst, inst.Args[1])
	val, err := x.read(ctx, inst, inst.Args[1], size)
	if err != nil {
		return models.RawEmulateInstr
	}
	if err := x.ports.Out(port, size, val); err != nil {
		x.log.Warn().Err(err).Msg("port write")
	}
	return models.Success
}

func stringSize(op x86asm.Op) int {
	switch op {
	case x86asm.INSB, x86asm.OUTSB:
		return 1
	case x86asm.INSW, x86asm.OUTSW:
		return 2
	}
	return 4
}

// strings runs a rep string io instruction. On a fault the registers reflect the iterations
// already done, and the emulator finishes the rest.
func (x *Interp) strings(ctx *cpu.Context, in models.Instr, out bool) models.Status {
	inst, ok := in.Raw.(x86asm.Inst)
	if !ok || inst.AddrSize != 32 {
		return models.RawEmulateInstr
	}
	if rc := x.ioAllowed(ctx); rc != models.Success {
		return rc
	}
	size := stringSize(inst.Op)
	step := uint32(size)
	if ctx.EFlags&cpu.EFL_DF != 0 {
		step = -step
	}
	port := uint16(ctx.EDX)
	count := uint32(1)
	if in.Rep {
		count = ctx.ECX
	}
	for ; count > 0; count-- {
		if out {
			seg := &ctx.DS
			if m, ok := inst.Args[1].(x86asm.Mem); ok && m.Segment != 0 {
				seg = segment(ctx, m.Segment)
			}
			b, err := ReadLinear(x.mem, ctx, seg.Base+ctx.ESI, size)
			if err != nil {
				return models.RawEmulateInstr
			}
			var buf [4]byte
			copy(buf[:], b)
			if err := x.ports.Out(port, size, binary.LittleEndian.Uint32(buf[:])); err != nil {
				x.log.Warn().Err(err).Msg("port write")
			}
			ctx.ESI += step
		} else {
			val, err := x.ports.In(port, size)
			if err != nil {
				x.log.Warn().Err(err).Msg("port read")
				val = sizeMask(size)
			}
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], val)
			if err := WriteLinear(x.mem, ctx, ctx.ES.Base+ctx.EDI, buf[:size]); err != nil {
				return models.RawEmulateInstr
			}
			ctx.EDI += step
		}
		if in.Rep {
			ctx.ECX--
		}
	}
	return models.Success
}

func (x *Interp) InterpretINS(ctx *cpu.Context, in models.Instr) models.Status {
	return x.strings(ctx, in, false)
}

func (x *Interp) InterpretOUTS(ctx *cpu.Context, in models.Instr) models.Status {
	return x.strings(ctx, in, true)
}
