package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"

	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// StatusDiff renders the guest register file, highlighting what changed since the previous render.
type StatusDiff struct {
	Color bool
	old   map[int]uint64
}

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

// registers are 32 bits wide except efer
const regDigits = 8

type Change struct {
	Name     string
	Enum     int
	Old, New uint64
}

func (c *Change) Changed() bool { return c.Old != c.New }

// String highlights only the hex digits that differ.
func (c *Change) String(color bool) string {
	name := fmt.Sprintf("%11s", c.Name)
	cur := fmt.Sprintf("%0*x", regDigits, c.New)
	if !c.Changed() {
		return name + " 0x" + cur
	}
	if !color {
		return "+" + name[1:] + " 0x" + cur
	}
	prev := fmt.Sprintf("%0*x", regDigits, c.Old)
	for len(prev) < len(cur) {
		prev = "0" + prev
	}
	var out strings.Builder
	out.WriteString(chNew + name + ansi.Reset + " 0x")
	for i := range cur {
		if i < len(prev) && prev[len(prev)-len(cur)+i] == cur[i] {
			out.WriteString(chSame)
		} else {
			out.WriteString(chNew)
		}
		out.WriteByte(cur[i])
	}
	out.WriteString(ansi.Reset)
	return out.String()
}

type Changes []*Change

func (cs Changes) Changed() Changes {
	var ret Changes
	for _, c := range cs {
		if c.Changed() {
			ret = append(ret, c)
		}
	}
	return ret
}

// String lays changes out in columns, filling down first.
func (cs Changes) String(color bool) string {
	const cols = 3
	rows := (len(cs) + cols - 1) / cols
	var out strings.Builder
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			i := col*rows + r
			if i >= len(cs) {
				break
			}
			if col > 0 {
				out.WriteString("  ")
			}
			out.WriteString(cs[i].String(color))
		}
		out.WriteString("\n")
	}
	return out.String()
}

// Changes snapshots ctx. With onlyChanged set, registers equal to the last snapshot are left out.
func (s *StatusDiff) Changes(ctx *cpu.Context, onlyChanged bool) Changes {
	regs := ctx.RegDump()
	cs := make(Changes, 0, len(regs))
	for _, reg := range regs {
		c := &Change{Name: reg.Name, Enum: reg.Enum, New: reg.Val, Old: reg.Val}
		if s.old != nil {
			c.Old = s.old[reg.Enum]
		}
		if !onlyChanged || c.Changed() {
			cs = append(cs, c)
		}
	}
	s.old = make(map[int]uint64, len(regs))
	for _, r := range regs {
		s.old[r.Enum] = r.Val
	}
	return cs
}

// Dump renders the full register file plus the hidden segment state.
func (s *StatusDiff) Dump(ctx *cpu.Context) string {
	var out strings.Builder
	out.WriteString(s.Changes(ctx, false).String(s.Color))
	for _, seg := range []struct {
		name string
		seg  cpu.Segment
	}{{"cs", ctx.CS}, {"ss", ctx.SS}, {"ds", ctx.DS}, {"es", ctx.ES}, {"fs", ctx.FS}, {"gs", ctx.GS}} {
		fmt.Fprintf(&out, "%11s %s\n", seg.name, seg.seg)
	}
	return out.String()
}
