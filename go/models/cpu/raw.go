package cpu

// RawFrame remembers what RawEnter changed so RawLeave can undo exactly that.
type RawFrame struct {
	compressedCS bool
	compressedSS bool
	virtIF       uint32
	entered      bool
}

// RawEnter converts ctx into the form the raw engine executes: supervisor code is pushed down to
// ring 1 and interrupts are left enabled on the real cpu, with the guest's own IF kept virtual.
func RawEnter(c *Context) RawFrame {
	f := RawFrame{entered: true, virtIF: c.EFlags & EFL_IF}
	if !c.IsV86() {
		if c.SS.RPL() == 0 {
			c.SS.Sel |= 1
			f.compressedSS = true
		}
		if c.CS.RPL() == 0 {
			c.CS.Sel |= 1
			f.compressedCS = true
		}
	}
	c.EFlags |= EFL_IF
	return f
}

// RawLeave reverses RawEnter. A selector the guest moved away from ring 1 during the burst is left alone.
func RawLeave(c *Context, f RawFrame) {
	if !f.entered {
		return
	}
	if f.compressedSS && c.SS.RPL() == 1 {
		c.SS.Sel &^= SEL_RPL
	}
	if f.compressedCS && c.CS.RPL() == 1 {
		c.CS.Sel &^= SEL_RPL
	}
	c.EFlags = c.EFlags&^EFL_IF | f.virtIF
}

func (f RawFrame) Entered() bool { return f.entered }
