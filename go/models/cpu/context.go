package cpu

import (
	"fmt"
)

// Segment is a segment register including the hidden descriptor cache.
type Segment struct {
	Sel   uint16
	Base  uint32
	Limit uint32
	// D/B bit of the cached descriptor
	DefBig bool
}

func (s Segment) RPL() uint8 { return uint8(s.Sel & SEL_RPL) }

func (s Segment) String() string {
	return fmt.Sprintf("%04x base=%08x limit=%08x big=%v", s.Sel, s.Base, s.Limit, s.DefBig)
}

// Table is a descriptor table register.
type Table struct {
	Base  uint32
	Limit uint16
}

// Context is the authoritative 32-bit x86 register image of one virtual CPU.
// Engines work on it between checkout and checkin; nothing else may touch it while a burst runs.
type Context struct {
	EAX, ECX, EDX, EBX uint32
	ESP, EBP, ESI, EDI uint32
	EIP                uint32
	EFlags             uint32

	CR0, CR2, CR3, CR4 uint32
	EFER               uint64

	CS, SS, DS, ES, FS, GS Segment
	GDTR, IDTR             Table

	SysEnterCS  uint16
	SysEnterEIP uint32
	SysEnterESP uint32
}

// Reset puts the context into the architectural power-on state, except we start in flat protected mode
// at entry since there is no firmware to get us there.
func (c *Context) Reset(entry, stack uint32) {
	*c = Context{}
	flat := Segment{Base: 0, Limit: 0xffffffff, DefBig: true}
	c.CS, c.SS, c.DS, c.ES, c.FS, c.GS = flat, flat, flat, flat, flat, flat
	c.CS.Sel = 0x08
	c.SS.Sel, c.DS.Sel, c.ES.Sel, c.FS.Sel, c.GS.Sel = 0x10, 0x10, 0x10, 0x10, 0x10
	c.CR0 = CR0_PE | CR0_ET
	c.EFlags = EFL_RA1
	c.EIP = entry
	c.ESP = stack
}

func (c *Context) IsV86() bool { return c.EFlags&EFL_VM != 0 }
func (c *Context) IF() bool    { return c.EFlags&EFL_IF != 0 }
func (c *Context) TF() bool    { return c.EFlags&EFL_TF != 0 }
func (c *Context) IOPL() uint8 { return uint8((c.EFlags & EFL_IOPL) >> eflIOPLShift) }

func (c *Context) Protected() bool { return c.CR0&CR0_PE != 0 }
func (c *Context) Paging() bool    { return c.CR0&CR0_PG != 0 }
func (c *Context) WriteProtect() bool {
	return c.CR0&CR0_WP != 0
}

// CPL follows the stack selector like the hardware does once the descriptor cache is loaded.
func (c *Context) CPL() uint8 {
	if !c.Protected() {
		return 0
	}
	if c.IsV86() {
		return 3
	}
	return c.SS.RPL()
}

// Is32Bit reports whether the current code segment executes 32-bit protected mode code.
func (c *Context) Is32Bit() bool {
	return c.Protected() && !c.IsV86() && c.CS.DefBig
}

func (c *Context) FlatPC() uint32 {
	if c.IsV86() || !c.Protected() {
		return uint32(c.CS.Sel)<<4 + c.EIP&0xffff
	}
	return c.CS.Base + c.EIP
}

func (c *Context) FlatSP() uint32 {
	if c.IsV86() || !c.Protected() {
		return uint32(c.SS.Sel)<<4 + c.ESP&0xffff
	}
	return c.SS.Base + c.ESP
}

func (c *Context) SetFlags(mask uint32)   { c.EFlags |= mask }
func (c *Context) ClearFlags(mask uint32) { c.EFlags &^= mask }

func (c *Context) String() string {
	return fmt.Sprintf("cs:eip=%04x:%08x ss:esp=%04x:%08x efl=%08x cr0=%08x cpl=%d",
		c.CS.Sel, c.EIP, c.SS.Sel, c.ESP, c.EFlags, c.CR0, c.CPL())
}
