package cpu

import (
	"testing"
)

func makeContext() *Context {
	c := &Context{}
	c.Reset(0x1000, 0x8000)
	return c
}

func BenchmarkRegsRead(b *testing.B) {
	c := makeContext()
	for i := 0; i < b.N; i++ {
		c.RegRead(i % regCount)
	}
}

func BenchmarkRegsWrite(b *testing.B) {
	c := makeContext()
	for i := 0; i < b.N; i++ {
		c.RegWrite(i%regCount, uint64(i))
	}
}

func TestRegs(t *testing.T) {
	c := makeContext()
	saved := *c

	for i := 0; i < regCount; i++ {
		if err := c.RegWrite(i, uint64(i*2)); err != nil {
			t.Fatal(err, "initial RegWrite() failed")
		}
	}
	for i := 0; i < regCount; i++ {
		if val, err := c.RegRead(i); err != nil {
			t.Fatal(err, "initial RegRead() failed")
		} else if val != uint64(i*2) {
			t.Fatalf("RegRead(%s) returned %d, expecting %d", RegName(i), val, i*2)
		}
	}
	*c = saved
	if c.EIP != 0x1000 || c.ESP != 0x8000 {
		t.Fatalf("restore failed: %s", c)
	}
}

func TestRegWidth(t *testing.T) {
	c := makeContext()
	c.RegWrite(REG_EAX, 0x1_2345_6789)
	if c.EAX != 0x2345_6789 {
		t.Fatalf("eax not truncated: %#x", c.EAX)
	}
	c.RegWrite(REG_CS, 0xdead_0023)
	if c.CS.Sel != 0x0023 || c.CS.Base != 0 || !c.CS.DefBig {
		t.Fatalf("cs write touched the hidden part: %s", c.CS)
	}
}

func TestRegInvalid(t *testing.T) {
	c := makeContext()
	if _, err := c.RegRead(regCount); err == nil {
		t.Fatal("RegRead() of an invalid enum should fail")
	}
	if err := c.RegWrite(-1, 0); err == nil {
		t.Fatal("RegWrite() of an invalid enum should fail")
	}
}

func TestRegEnum(t *testing.T) {
	if e, ok := RegEnum("EIP"); !ok || e != REG_EIP {
		t.Fatal("RegEnum(EIP) failed")
	}
	if _, ok := RegEnum("rip"); ok {
		t.Fatal("RegEnum(rip) should fail")
	}
	if len(makeContext().RegDump()) != regCount {
		t.Fatal("RegDump() is missing registers")
	}
}

func TestCPL(t *testing.T) {
	c := makeContext()
	if c.CPL() != 0 {
		t.Fatalf("flat start should be ring 0, got %d", c.CPL())
	}
	c.SS.Sel = 0x23
	if c.CPL() != 3 {
		t.Fatalf("expected ring 3, got %d", c.CPL())
	}
	c.SS.Sel = 0x10
	c.EFlags |= EFL_VM
	if c.CPL() != 3 || c.Is32Bit() {
		t.Fatal("v86 should be ring 3 16-bit")
	}
	c.EFlags &^= EFL_VM
	c.CR0 &^= CR0_PE
	if c.CPL() != 0 {
		t.Fatal("real mode should be ring 0")
	}
}

func TestFlatPC(t *testing.T) {
	c := makeContext()
	c.CS.Base = 0x10000
	if c.FlatPC() != 0x11000 {
		t.Fatalf("bad flat pc %#x", c.FlatPC())
	}
	c.CR0 &^= CR0_PE
	c.CS.Sel = 0xf000
	c.EIP = 0xfff0
	if c.FlatPC() != 0xffff0 {
		t.Fatalf("bad real mode pc %#x", c.FlatPC())
	}
}
