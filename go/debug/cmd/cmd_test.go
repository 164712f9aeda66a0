package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

type fakeMachine struct {
	ctx     cpu.Context
	ff      models.ForcedActions
	bps     models.Breakpoints
	mem     []byte
	parked  bool
	event   models.DebugEvent
	resumed []models.Status
	stops   int
}

func (m *fakeMachine) Inspect(fn func(ctx *cpu.Context)) { fn(&m.ctx) }
func (m *fakeMachine) Flags() *models.ForcedActions { return &m.ff }
func (m *fakeMachine) State() models.State { return models.StateEmulated }
func (m *fakeMachine) Breakpoints() *models.Breakpoints { return &m.bps }
func (m *fakeMachine) Parked() (models.DebugEvent, bool) { return m.event, m.parked }
func (m *fakeMachine) Stop() { m.stops++ }
func (m *fakeMachine) Symbolicate(addr uint32) string {
	if addr == 0x1000 {
		return "start"
	}
	return ""
}

func (m *fakeMachine) ReadMem(addr uint32, n int) ([]byte, error) {
	if int(addr)+n > len(m.mem) {
		return nil, errors.Errorf("read %#x+%d out of range", addr, n)
	}
	return m.mem[addr : int(addr)+n], nil
}

func (m *fakeMachine) Resume(rc models.Status) error {
	m.resumed = append(m.resumed, rc)
	m.parked = false
	return nil
}

func newConsole() (*Context, *fakeMachine, *bytes.Buffer) {
	m := &fakeMachine{mem: make([]byte, 0x2000)}
	m.ctx.Reset(0x1000, 0x2000)
	var buf bytes.Buffer
	return &Context{ReadWriter: &buf, M: m}, m, &buf
}

func run(t *testing.T, c *Context, buf *bytes.Buffer, line string) string {
	buf.Reset()
	if err := Run(c, line); err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return buf.String()
}

func TestUnknownCommand(t *testing.T) {
	c, _, buf := newConsole()
	require.Equal(t, "command not found.\n", run(t, c, buf, "frob"))
	require.Equal(t, "", run(t, c, buf, "   "))
	require.Contains(t, run(t, c, buf, `reg "eax`), "parse error")
}

func TestArity(t *testing.T) {
	c, _, buf := newConsole()
	require.Equal(t, "usage: mem <uint32> <uint32>\n", run(t, c, buf, "mem 0x10"))
	require.Contains(t, run(t, c, buf, "mem zz 4"), "bad number")
}

func TestReg(t *testing.T) {
	c, m, buf := newConsole()
	out := run(t, c, buf, "reg")
	require.Contains(t, out, "eip 0x00001000")

	require.Equal(t, "eip 0x1000\n", run(t, c, buf, "reg eip"))
	require.Equal(t, "reg bogus not found\n", run(t, c, buf, "reg bogus"))

	// writes need a parked guest
	require.Contains(t, run(t, c, buf, "reg eax=0x42"), "guest is running")
	require.Zero(t, m.ctx.EAX)

	m.parked = true
	require.Equal(t, "", run(t, c, buf, "reg eax=0x42 ebx=-1"))
	require.Equal(t, uint32(0x42), m.ctx.EAX)
	require.Equal(t, uint32(0xffffffff), m.ctx.EBX)
}

func TestBreakpoints(t *testing.T) {
	c, m, buf := newConsole()
	require.Equal(t, "breakpoint at 0x00001000\nbreakpoint at 0x00000010\n", run(t, c, buf, "break *0x1000 16"))
	require.Contains(t, run(t, c, buf, "break nope"), "parse failed")
	require.Equal(t, 2, m.bps.Len())

	out := run(t, c, buf, "bps")
	require.Equal(t, "  0x00000010 (0 hits)\n  0x00001000 (0 hits) <start>\n", out)

	require.Equal(t, "", run(t, c, buf, "delete 0x10"))
	require.Equal(t, "no breakpoint at 0x00000010\n", run(t, c, buf, "delete 0x10"))
	require.Equal(t, 1, m.bps.Len())
}

func TestExecControl(t *testing.T) {
	c, m, buf := newConsole()
	require.Contains(t, run(t, c, buf, "step"), "guest is running")
	require.Contains(t, run(t, c, buf, "continue"), "guest is running")

	run(t, c, buf, "stop")
	require.Equal(t, 1, m.stops)

	m.parked, m.event = true, models.EventStop
	require.Equal(t, "already stopped\n", run(t, c, buf, "stop"))
	require.Equal(t, "state emulated pc 0x00001000 <start> stopped on stop\n", run(t, c, buf, "state"))

	run(t, c, buf, "step")
	m.parked = true
	run(t, c, buf, "continue")
	require.Equal(t, []models.Status{models.DbgStep, models.Resume}, m.resumed)
}

func TestResetAndPowerOff(t *testing.T) {
	c, m, buf := newConsole()
	run(t, c, buf, "reset")
	require.True(t, m.ff.IsSet(models.FF_RESET))
	require.Empty(t, m.resumed)

	run(t, c, buf, "poweroff")
	require.True(t, m.ff.IsSet(models.FF_OFF))
	require.Equal(t, "OFF|RESET\n", run(t, c, buf, "ff"))

	m.parked = true
	run(t, c, buf, "poweroff")
	require.Equal(t, []models.Status{models.Off}, m.resumed)
}

func TestMem(t *testing.T) {
	c, m, buf := newConsole()
	copy(m.mem[0x100:], "hello\x00world")
	out := run(t, c, buf, "mem 0x100 20")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "  0x00000100: 68 65 6c 6c 6f 00 77 6f"), lines[0])
	require.True(t, strings.HasSuffix(lines[0], "[hello.world.....]"), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "  0x00000110: 00 00 00 00    "), lines[1])

	require.Contains(t, run(t, c, buf, "mem 0x1ff0 0x100"), "out of range")
}

func TestQuit(t *testing.T) {
	c, _, _ := newConsole()
	require.Equal(t, ErrQuit, Run(c, "quit"))
}

func TestHelpListsCommands(t *testing.T) {
	c, _, buf := newConsole()
	out := run(t, c, buf, "help")
	for name := range Commands {
		require.Contains(t, out, "  "+name)
	}
}
