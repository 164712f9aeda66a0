package cpu

import (
	"strings"

	"github.com/pkg/errors"
)

// register enums for RegRead/RegWrite, in dump order
const (
	REG_EAX = iota
	REG_ECX
	REG_EDX
	REG_EBX
	REG_ESP
	REG_EBP
	REG_ESI
	REG_EDI
	REG_EIP
	REG_EFLAGS
	REG_CR0
	REG_CR2
	REG_CR3
	REG_CR4
	REG_EFER
	REG_CS
	REG_SS
	REG_DS
	REG_ES
	REG_FS
	REG_GS
	REG_SYSENTER_CS

	regCount
)

var regNames = [regCount]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"eip", "eflags",
	"cr0", "cr2", "cr3", "cr4", "efer",
	"cs", "ss", "ds", "es", "fs", "gs",
	"sysenter_cs",
}

type Reg struct {
	Enum int
	Name string
}

type RegVal struct {
	Reg
	Val uint64
}

var ErrInvalidReg = errors.New("invalid register")

// RegEnum looks up a register by (case-insensitive) name.
func RegEnum(name string) (int, bool) {
	name = strings.ToLower(name)
	for i, n := range regNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func RegName(enum int) string {
	if enum < 0 || enum >= regCount {
		return "?"
	}
	return regNames[enum]
}

func (c *Context) gpr(enum int) *uint32 {
	switch enum {
	case REG_EAX:
		return &c.EAX
	case REG_ECX:
		return &c.ECX
	case REG_EDX:
		return &c.EDX
	case REG_EBX:
		return &c.EBX
	case REG_ESP:
		return &c.ESP
	case REG_EBP:
		return &c.EBP
	case REG_ESI:
		return &c.ESI
	case REG_EDI:
		return &c.EDI
	case REG_EIP:
		return &c.EIP
	case REG_EFLAGS:
		return &c.EFlags
	case REG_CR0:
		return &c.CR0
	case REG_CR2:
		return &c.CR2
	case REG_CR3:
		return &c.CR3
	case REG_CR4:
		return &c.CR4
	}
	return nil
}

func (c *Context) seg(enum int) *Segment {
	switch enum {
	case REG_CS:
		return &c.CS
	case REG_SS:
		return &c.SS
	case REG_DS:
		return &c.DS
	case REG_ES:
		return &c.ES
	case REG_FS:
		return &c.FS
	case REG_GS:
		return &c.GS
	}
	return nil
}

func (c *Context) RegRead(enum int) (uint64, error) {
	if p := c.gpr(enum); p != nil {
		return uint64(*p), nil
	}
	if s := c.seg(enum); s != nil {
		return uint64(s.Sel), nil
	}
	switch enum {
	case REG_EFER:
		return c.EFER, nil
	case REG_SYSENTER_CS:
		return uint64(c.SysEnterCS), nil
	}
	return 0, errors.WithStack(ErrInvalidReg)
}

// RegWrite truncates val to the register width. Writing a segment register only changes the
// visible selector; the hidden part stays whatever was last loaded.
func (c *Context) RegWrite(enum int, val uint64) error {
	if p := c.gpr(enum); p != nil {
		*p = uint32(val)
		return nil
	}
	if s := c.seg(enum); s != nil {
		s.Sel = uint16(val)
		return nil
	}
	switch enum {
	case REG_EFER:
		c.EFER = val
		return nil
	case REG_SYSENTER_CS:
		c.SysEnterCS = uint16(val)
		return nil
	}
	return errors.WithStack(ErrInvalidReg)
}

func (c *Context) RegDump() []RegVal {
	ret := make([]RegVal, regCount)
	for i := 0; i < regCount; i++ {
		val, _ := c.RegRead(i)
		ret[i] = RegVal{Reg{i, regNames[i]}, val}
	}
	return ret
}
