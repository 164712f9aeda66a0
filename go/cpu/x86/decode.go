package x86

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

const maxInstrLen = 15

var opMap = map[x86asm.Op]models.Op{
	x86asm.CLI:      models.OpCLI,
	x86asm.STI:      models.OpSTI,
	x86asm.HLT:      models.OpHLT,
	x86asm.IN:       models.OpIN,
	x86asm.OUT:      models.OpOUT,
	x86asm.INSB:     models.OpINS,
	x86asm.INSW:     models.OpINS,
	x86asm.INSD:     models.OpINS,
	x86asm.OUTSB:    models.OpOUTS,
	x86asm.OUTSW:    models.OpOUTS,
	x86asm.OUTSD:    models.OpOUTS,
	x86asm.MONITOR:  models.OpMONITOR,
	x86asm.MWAIT:    models.OpMWAIT,
	x86asm.SYSENTER: models.OpSYSENTER,
	x86asm.SYSEXIT:  models.OpSYSEXIT,
	x86asm.SYSCALL:  models.OpSYSCALL,
	x86asm.SYSRET:   models.OpSYSRET,
	x86asm.IRET:     models.OpIRET,
	x86asm.IRETD:    models.OpIRET,
	x86asm.MOV:      models.OpMOV,
	x86asm.AND:      models.OpAND,
	x86asm.OR:       models.OpOR,
	x86asm.XOR:      models.OpXOR,
	x86asm.POP:      models.OpPOP,
	x86asm.INC:      models.OpINC,
	x86asm.DEC:      models.OpDEC,
	x86asm.XCHG:     models.OpXCHG,
}

func isCR(a x86asm.Arg) bool {
	r, ok := a.(x86asm.Reg)
	return ok && r >= x86asm.CR0 && r <= x86asm.CR15
}

func isDR(a x86asm.Arg) bool {
	r, ok := a.(x86asm.Reg)
	return ok && r >= x86asm.DR0 && r <= x86asm.DR15
}

func hasRep(inst x86asm.Inst) bool {
	for _, p := range inst.Prefix {
		if p == 0 {
			break
		}
		if p&0xff == x86asm.PrefixREP {
			return true
		}
	}
	return false
}

// Decoder decodes the guest instruction at cs:eip.
type Decoder struct {
	mem PhysMem
}

func NewDecoder(mem PhysMem) *Decoder { return &Decoder{mem} }

func (d *Decoder) fetch(ctx *cpu.Context) ([]byte, error) {
	// an instruction near the end of a page may not need the next one
	pc := ctx.FlatPC()
	first := pageSize - int(pc&(pageSize-1))
	if first >= maxInstrLen {
		return ReadLinear(d.mem, ctx, pc, maxInstrLen)
	}
	buf, err := ReadLinear(d.mem, ctx, pc, first)
	if err != nil {
		return nil, err
	}
	if rest, err := ReadLinear(d.mem, ctx, pc+uint32(first), maxInstrLen-first); err == nil {
		buf = append(buf, rest...)
	}
	return buf, nil
}

func (d *Decoder) Decode(ctx *cpu.Context) (models.Instr, error) {
	buf, err := d.fetch(ctx)
	if err != nil {
		return models.Instr{}, errors.Wrapf(err, "fetch at %#08x", ctx.FlatPC())
	}
	mode := 16
	if ctx.Is32Bit() {
		mode = 32
	}
	inst, err := x86asm.Decode(buf, mode)
	if err != nil {
		return models.Instr{}, errors.Wrapf(err, "decode at %#08x", ctx.FlatPC())
	}
	in := models.Instr{
		Op:   opMap[inst.Op],
		Len:  uint32(inst.Len),
		Rep:  hasRep(inst),
		Text: x86asm.IntelSyntax(inst, uint64(ctx.EIP), nil),
		Raw:  inst,
	}
	if inst.Op == x86asm.MOV {
		switch {
		case isCR(inst.Args[0]):
			in.Op, in.CRWrite = models.OpMovCR, true
		case isCR(inst.Args[1]):
			in.Op = models.OpMovCR
		case isDR(inst.Args[0]) || isDR(inst.Args[1]):
			in.Op = models.OpMovDR
		}
	}
	return in, nil
}
