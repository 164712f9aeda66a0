package models

import (
	"testing"
)

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	c.HwAccel, c.RawR0 = true, true
	if c.Validate() == nil {
		t.Fatal("hwaccel + raw should not validate")
	}
	c = DefaultConfig()
	c.MemSize = 0x1001
	if c.Validate() == nil {
		t.Fatal("unaligned memory should not validate")
	}
	c = DefaultConfig()
	c.Image = "x.bin"
	c.Entry = c.MemSize
	if c.Validate() == nil {
		t.Fatal("entry outside memory should not validate")
	}
}
