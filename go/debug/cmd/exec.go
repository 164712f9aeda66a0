package cmd

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

var errRunning = errors.New("guest is running, use stop first")

func resume(c *Context, rc models.Status) error {
	if _, parked := c.M.Parked(); !parked {
		return errRunning
	}
	return c.M.Resume(rc)
}

var StateCmd = cmd(&Command{
	Name: "state",
	Desc: "Show scheduler state and the pending debug event.",
	Run: func(c *Context) error {
		var pc uint32
		c.M.Inspect(func(ctx *cpu.Context) { pc = ctx.FlatPC() })
		c.Printf("state %s pc 0x%08x", c.M.State(), pc)
		if sym := c.M.Symbolicate(pc); sym != "" {
			c.Printf(" <%s>", sym)
		}
		if ev, parked := c.M.Parked(); parked {
			c.Printf(" stopped on %s", ev)
		}
		c.Printf("\n")
		return nil
	},
})

var FFCmd = cmd(&Command{
	Name: "ff",
	Desc: "Show pending forced actions.",
	Run: func(c *Context) error {
		c.Printf("%s\n", c.M.Flags().Load())
		return nil
	},
})

var StepCmd = cmd(&Command{
	Name: "step",
	Desc: "Execute one guest instruction.",
	Run: func(c *Context) error {
		return resume(c, models.DbgStep)
	},
})

var ContinueCmd = cmd(&Command{
	Name: "continue",
	Desc: "Let the guest run.",
	Run: func(c *Context) error {
		return resume(c, models.Resume)
	},
})

var StopCmd = cmd(&Command{
	Name: "stop",
	Desc: "Stop the guest at the next forced action check.",
	Run: func(c *Context) error {
		if _, parked := c.M.Parked(); parked {
			c.Printf("already stopped\n")
			return nil
		}
		c.M.Stop()
		return nil
	},
})

var ResetCmd = cmd(&Command{
	Name: "reset",
	Desc: "Reset the machine.",
	Run: func(c *Context) error {
		c.M.Flags().Set(models.FF_RESET)
		if _, parked := c.M.Parked(); parked {
			return c.M.Resume(models.Resume)
		}
		return nil
	},
})

var PowerOffCmd = cmd(&Command{
	Name: "poweroff",
	Desc: "Power the machine off.",
	Run: func(c *Context) error {
		if _, parked := c.M.Parked(); parked {
			return c.M.Resume(models.Off)
		}
		c.M.Flags().Set(models.FF_OFF)
		return nil
	},
})
