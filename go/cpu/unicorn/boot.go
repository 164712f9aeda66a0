package unicorn

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/loader"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// the boot gdt sits below the usual load addresses
const bootGDT = 0x800

// null, flat ring 0 code, flat ring 0 data
var bootDescriptors = []uint64{0, 0x00cf9a000000ffff, 0x00cf92000000ffff}

// Boot copies the image into guest memory and starts ctx at its entry in flat 32-bit protected
// mode with paging and interrupts off and the stack at the top of memory.
func (e *Engine) Boot(ctx *cpu.Context, l loader.Loader) error {
	segs, err := l.Segments()
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s.Addr+uint64(len(s.Data)) > e.cfg.MemSize {
			return errors.Errorf("segment %s doesn't fit in guest memory", s)
		}
		if s.Addr < bootGDT+uint64(len(bootDescriptors)*8) && s.Addr+uint64(len(s.Data)) > bootGDT {
			return errors.Errorf("segment %s overlaps the boot gdt", s)
		}
		if err := e.MemWrite(s.Addr, s.Data); err != nil {
			return errors.Wrapf(err, "loading segment %s", s)
		}
	}
	gdt := make([]byte, len(bootDescriptors)*8)
	for i, d := range bootDescriptors {
		binary.LittleEndian.PutUint64(gdt[i*8:], d)
	}
	if err := e.MemWrite(bootGDT, gdt); err != nil {
		return errors.Wrap(err, "writing boot gdt")
	}
	ctx.Reset(uint32(l.Entry()), uint32(e.cfg.MemSize))
	ctx.GDTR = cpu.Table{Base: bootGDT, Limit: uint16(len(gdt) - 1)}
	e.loaded = false
	e.log.Info().Str("format", l.Format()).Uint64("entry", l.Entry()).Int("segments", len(segs)).Msg("boot")
	return nil
}
