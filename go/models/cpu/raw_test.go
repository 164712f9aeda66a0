package cpu

import (
	"testing"
)

func TestRawRoundTrip(t *testing.T) {
	for _, setup := range []func(c *Context){
		func(c *Context) {},
		func(c *Context) { c.EFlags |= EFL_IF },
		func(c *Context) { c.SS.Sel, c.CS.Sel = 0x23, 0x1b; c.EFlags |= EFL_IF },
		func(c *Context) { c.EFlags |= EFL_VM; c.CS.Sel = 0x1000 },
		func(c *Context) { c.CS.Sel = 0x09 },
	} {
		c := makeContext()
		setup(c)
		orig := *c
		f := RawEnter(c)
		RawLeave(c, f)
		if *c != orig {
			t.Fatalf("round trip changed context:\n%s\n%s", &orig, c)
		}
	}
}

func TestRawCompression(t *testing.T) {
	c := makeContext()
	f := RawEnter(c)
	if c.CS.RPL() != 1 || c.SS.RPL() != 1 {
		t.Fatalf("supervisor code not compressed to ring 1: %s", c)
	}
	if !c.IF() {
		t.Fatal("raw entry should run with IF set")
	}
	// guest iret'd to ring 3 during the burst
	c.SS.Sel, c.CS.Sel = 0x23, 0x1b
	RawLeave(c, f)
	if c.SS.Sel != 0x23 || c.CS.Sel != 0x1b {
		t.Fatalf("ring 3 selectors were modified: %s", c)
	}
	if c.IF() {
		t.Fatal("virtual IF was not restored")
	}
}

func TestRawLeaveUnentered(t *testing.T) {
	c := makeContext()
	c.CS.Sel = 0x09
	RawLeave(c, RawFrame{})
	if c.CS.Sel != 0x09 {
		t.Fatal("RawLeave without RawEnter modified the context")
	}
}
