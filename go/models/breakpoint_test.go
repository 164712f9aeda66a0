package models

import (
	"testing"

	"github.com/pkg/errors"
)

func TestParseBreakpoint(t *testing.T) {
	for desc, addr := range map[string]uint32{"0x1000": 0x1000, "*0xFFF0": 0xfff0, "4096": 4096} {
		bp, err := ParseBreakpoint(desc)
		if err != nil {
			t.Fatal(err)
		}
		if bp.Addr != addr {
			t.Fatalf("%s: got %#x, expected %#x", desc, bp.Addr, addr)
		}
	}
	for _, desc := range []string{"", "main", "0x", "0x1ffffffff"} {
		if _, err := ParseBreakpoint(desc); err == nil {
			t.Fatalf("%q should not parse", desc)
		}
	}
	if _, err := ParseBreakpoint("foo"); errors.Cause(err) != BreakpointParseErr {
		t.Fatal("expected BreakpointParseErr")
	}
}

func TestBreakpoints(t *testing.T) {
	var b Breakpoints
	if b.Hit(0x1000) {
		t.Fatal("hit on empty set")
	}
	b.Add("0x2000")
	bp, _ := b.Add("0x1000")
	if again, _ := b.Add("4096"); again != bp {
		t.Fatal("duplicate breakpoint created")
	}
	if !b.Hit(0x1000) || bp.Hits() != 1 {
		t.Fatal("hit not counted")
	}
	list := b.List()
	if len(list) != 2 || list[0].Addr != 0x1000 {
		t.Fatal("List() not sorted")
	}
	if !b.Remove(0x1000) || b.Remove(0x1000) || b.Len() != 1 {
		t.Fatal("Remove() failed")
	}
}
