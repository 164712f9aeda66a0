// Package x86 knows enough of the 32-bit x86 system architecture to walk page tables, load
// descriptors, decode and interpret simple instructions and deliver traps through the IDT.
package x86

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// PhysMem is guest physical memory. The unicorn engine satisfies it directly.
type PhysMem interface {
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, data []byte) error
}

const pageSize = 0x1000

// page table entry bits
const (
	pteP  = 1 << 0
	pteW  = 1 << 1
	pteU  = 1 << 2
	ptePS = 1 << 7
)

// page fault error code bits
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
	pfUser    = 1 << 2
)

type PageFault struct {
	Addr uint32
	Code uint32
}

func (p *PageFault) Error() string {
	return fmt.Sprintf("page fault at %#08x (code %#x)", p.Addr, p.Code)
}

func read32(mem PhysMem, addr uint32) (uint32, error) {
	b, err := mem.MemRead(uint64(addr), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Translate walks the guest's 32-bit page tables with the current privilege level.
// It doesn't set accessed or dirty bits.
func Translate(mem PhysMem, ctx *cpu.Context, addr uint32, write bool) (uint32, error) {
	return translate(mem, ctx, addr, write, ctx.CPL() == 3)
}

// descriptor table and stack accesses during delivery are always supervisor accesses
func translate(mem PhysMem, ctx *cpu.Context, addr uint32, write, user bool) (uint32, error) {
	if !ctx.Paging() {
		return addr, nil
	}
	if ctx.CR4&cpu.CR4_PAE != 0 {
		return 0, errors.New("pae paging is not supported")
	}
	fault := func(present bool) error {
		code := uint32(0)
		if present {
			code |= pfPresent
		}
		if write {
			code |= pfWrite
		}
		if user {
			code |= pfUser
		}
		return &PageFault{addr, code}
	}

	pde, err := read32(mem, ctx.CR3&^0xfff+(addr>>22)*4)
	if err != nil {
		return 0, err
	}
	if pde&pteP == 0 {
		return 0, fault(false)
	}
	var phys, flags uint32
	if pde&ptePS != 0 && ctx.CR4&cpu.CR4_PSE != 0 {
		phys = pde&0xffc00000 | addr&0x3fffff
		flags = pde
	} else {
		pte, err := read32(mem, pde&^0xfff+(addr>>12&0x3ff)*4)
		if err != nil {
			return 0, err
		}
		if pte&pteP == 0 {
			return 0, fault(false)
		}
		phys = pte&^0xfff | addr&0xfff
		flags = pde & pte
	}
	if user && flags&pteU == 0 {
		return 0, fault(true)
	}
	if write && flags&pteW == 0 && (user || ctx.WriteProtect()) {
		return 0, fault(true)
	}
	return phys, nil
}

// ReadLinear reads n bytes at a linear address, page by page.
func ReadLinear(mem PhysMem, ctx *cpu.Context, addr uint32, n int) ([]byte, error) {
	return readLinear(mem, ctx, addr, n, ctx.CPL() == 3)
}

func readLinear(mem PhysMem, ctx *cpu.Context, addr uint32, n int, user bool) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		chunk := pageSize - int(addr&(pageSize-1))
		if chunk > n {
			chunk = n
		}
		phys, err := translate(mem, ctx, addr, false, user)
		if err != nil {
			return out, err
		}
		b, err := mem.MemRead(uint64(phys), uint64(chunk))
		if err != nil {
			return out, errors.Wrapf(err, "read %#x", phys)
		}
		out = append(out, b...)
		addr += uint32(chunk)
		n -= chunk
	}
	return out, nil
}

// WriteLinear translates every page before writing any of them.
func WriteLinear(mem PhysMem, ctx *cpu.Context, addr uint32, data []byte) error {
	return writeLinear(mem, ctx, addr, data, ctx.CPL() == 3)
}

func writeLinear(mem PhysMem, ctx *cpu.Context, addr uint32, data []byte, user bool) error {
	type span struct {
		phys uint32
		data []byte
	}
	var spans []span
	for len(data) > 0 {
		chunk := pageSize - int(addr&(pageSize-1))
		if chunk > len(data) {
			chunk = len(data)
		}
		phys, err := translate(mem, ctx, addr, true, user)
		if err != nil {
			return err
		}
		spans = append(spans, span{phys, data[:chunk]})
		addr += uint32(chunk)
		data = data[chunk:]
	}
	for _, s := range spans {
		if err := mem.MemWrite(uint64(s.phys), s.data); err != nil {
			return errors.Wrapf(err, "write %#x", s.phys)
		}
	}
	return nil
}

func descriptor(mem PhysMem, ctx *cpu.Context, table cpu.Table, off uint32) (lo, hi uint32, err error) {
	if off+7 > uint32(table.Limit) {
		return 0, 0, errors.Errorf("offset %#x past table limit %#x", off, table.Limit)
	}
	b, err := readLinear(mem, ctx, table.Base+off, 8, false)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(b), binary.LittleEndian.Uint32(b[4:]), nil
}

// LoadSegment resolves a selector into the segment cache the way a segment load would.
func LoadSegment(mem PhysMem, ctx *cpu.Context, sel uint16) (cpu.Segment, error) {
	if !ctx.Protected() || ctx.IsV86() {
		return cpu.Segment{Sel: sel, Base: uint32(sel) << 4, Limit: 0xffff}, nil
	}
	if sel&^cpu.SEL_RPL == 0 {
		return cpu.Segment{Sel: sel}, nil
	}
	if sel&4 != 0 {
		return cpu.Segment{}, errors.Errorf("selector %#x: ldt is not supported", sel)
	}
	lo, hi, err := descriptor(mem, ctx, ctx.GDTR, uint32(sel&^7))
	if err != nil {
		return cpu.Segment{}, errors.Wrapf(err, "selector %#x", sel)
	}
	if hi&(1<<15) == 0 {
		return cpu.Segment{}, errors.Errorf("selector %#x: segment not present", sel)
	}
	limit := lo&0xffff | hi&0xf0000
	if hi&(1<<23) != 0 {
		limit = limit<<12 | 0xfff
	}
	return cpu.Segment{
		Sel:    sel,
		Base:   lo>>16 | (hi&0xff)<<16 | hi&0xff000000,
		Limit:  limit,
		DefBig: hi&(1<<22) != 0,
	}, nil
}

// gate types
const (
	GateTask   = 0x5
	GateInt16  = 0x6
	GateTrap16 = 0x7
	GateInt32  = 0xe
	GateTrap32 = 0xf
)

type Gate struct {
	Selector uint16
	Offset   uint32
	Type     uint8
	DPL      uint8
	Present  bool
}

func ReadGate(mem PhysMem, ctx *cpu.Context, vector uint8) (Gate, error) {
	lo, hi, err := descriptor(mem, ctx, ctx.IDTR, uint32(vector)*8)
	if err != nil {
		return Gate{}, errors.Wrapf(err, "gate %#x", vector)
	}
	return Gate{
		Selector: uint16(lo >> 16),
		Offset:   lo&0xffff | hi&0xffff0000,
		Type:     uint8(hi >> 8 & 0xf),
		DPL:      uint8(hi >> 13 & 3),
		Present:  hi&(1<<15) != 0,
	}, nil
}
