package cmd

import (
	"fmt"
	"io"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Machine is what the console can see and steer. The debugger implements it.
type Machine interface {
	Inspect(fn func(ctx *cpu.Context))
	Flags() *models.ForcedActions
	State() models.State
	Breakpoints() *models.Breakpoints
	ReadMem(addr uint32, n int) ([]byte, error)
	Symbolicate(addr uint32) string

	// Parked reports the event the vcpu is blocked on, if any.
	Parked() (models.DebugEvent, bool)
	Stop()
	Resume(rc models.Status) error
}

type Context struct {
	io.ReadWriter
	M Machine

	// Diff remembers the registers from the last `reg` so changes stand out.
	Diff models.StatusDiff
}

func (c *Context) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Fprintf(c, format, a...)
}
