package cmd

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lunixbochs/vmsched/go/models/cpu"
)

var strEqNumRe = regexp.MustCompile(`^([a-zA-Z_0-9]+)=((-|0|0x|0b)?[0-9a-fA-F]+)$`)

var RegCmd = cmd(&Command{
	Name: "reg",
	Desc: "Read/write regs.",
	Run: func(c *Context, args ...string) error {
		if len(args) == 0 {
			var out string
			c.M.Inspect(func(ctx *cpu.Context) { out = c.Diff.Changes(ctx, false).String(c.Diff.Color) })
			c.Printf("%s", out)
			return nil
		}
		for _, v := range args {
			var value uint64
			reg := v
			// check for assignment
			match := strEqNumRe.FindStringSubmatch(v)
			if len(match) > 0 {
				reg = match[1]
				var err error
				if match[2][0] == '-' {
					var n int64
					n, err = strconv.ParseInt(match[2], 0, 64)
					value = uint64(n)
				} else {
					value, err = strconv.ParseUint(match[2], 0, 64)
				}
				if err != nil {
					c.Printf("error parsing %s value: %v\n", reg, err)
					continue
				}
				if _, parked := c.M.Parked(); !parked {
					c.Printf("%s: guest is running, stop it first\n", reg)
					continue
				}
			}
			enum, ok := cpu.RegEnum(reg)
			if !ok {
				if strings.Contains(reg, "=") {
					c.Printf("invalid assignment: %s\n", reg)
				} else {
					c.Printf("reg %s not found\n", reg)
				}
				continue
			}
			var val uint64
			var err error
			c.M.Inspect(func(ctx *cpu.Context) {
				if len(match) > 0 {
					err = ctx.RegWrite(enum, value)
				} else {
					val, err = ctx.RegRead(enum)
				}
			})
			if err != nil {
				c.Printf("%s: %v\n", v, err)
			} else if len(match) == 0 {
				c.Printf("%s 0x%x\n", cpu.RegName(enum), val)
			}
		}
		return nil
	},
})
