package cmd

import (
	"github.com/lunixbochs/vmsched/go/models"
)

var BreakCmd = cmd(&Command{
	Name: "break",
	Desc: "Add breakpoints (0xADDR, *0xADDR or decimal).",
	Run: func(c *Context, args ...string) error {
		for _, desc := range args {
			bp, err := c.M.Breakpoints().Add(desc)
			if err != nil {
				c.Printf("%s: %v\n", desc, err)
				continue
			}
			c.Printf("breakpoint at 0x%08x\n", bp.Addr)
		}
		return nil
	},
})

var DeleteCmd = cmd(&Command{
	Name: "delete",
	Desc: "Remove breakpoints by address.",
	Run: func(c *Context, args ...string) error {
		for _, desc := range args {
			bp, err := models.ParseBreakpoint(desc)
			if err != nil {
				c.Printf("%s: %v\n", desc, err)
				continue
			}
			if !c.M.Breakpoints().Remove(bp.Addr) {
				c.Printf("no breakpoint at 0x%08x\n", bp.Addr)
			}
		}
		return nil
	},
})

var BpsCmd = cmd(&Command{
	Name: "bps",
	Desc: "List breakpoints.",
	Run: func(c *Context) error {
		for _, bp := range c.M.Breakpoints().List() {
			c.Printf("  %s", bp)
			if sym := c.M.Symbolicate(bp.Addr); sym != "" {
				c.Printf(" <%s>", sym)
			}
			c.Printf("\n")
		}
		return nil
	},
})
