package debug

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/debug/cmd"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

type target struct {
	mu  sync.Mutex
	ctx cpu.Context
	ff  models.ForcedActions
}

func (t *target) Inspect(fn func(ctx *cpu.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.ctx)
}

func (t *target) Flags() *models.ForcedActions { return &t.ff }
func (t *target) State() models.State { return models.StateDebugGuestEmulated }

type flatMem []byte

func (m flatMem) MemRead(addr, size uint64) ([]byte, error) {
	if addr+size > uint64(len(m)) {
		return nil, errors.New("out of range")
	}
	return m[addr : addr+size], nil
}

func (m flatMem) MemWrite(addr uint64, p []byte) error {
	if addr+uint64(len(p)) > uint64(len(m)) {
		return errors.New("out of range")
	}
	copy(m[addr:], p)
	return nil
}

// notes collects what a console would have printed.
type notes chan string

func (n notes) Write(p []byte) (int, error) {
	n <- string(p)
	return len(p), nil
}

func (n notes) next(t *testing.T) string {
	select {
	case s := <-n:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no note")
	}
	return ""
}

func newDebugger(t *testing.T) (*Debugger, *target) {
	tg := &target{}
	tg.ctx.Reset(0x1000, 0x8000)
	d := NewDebugger(&models.Breakpoints{}, make(flatMem, 0x10000), nil, zerolog.Nop())
	d.SetTarget(tg)
	return d, tg
}

func TestDetachedEvents(t *testing.T) {
	d, _ := newDebugger(t)
	require.Equal(t, models.ErrNotAttached, d.Event(models.EventStepped))
	require.Equal(t, models.ErrNotAttached, d.EventBreakpoint(models.EventBreakpoint))
	require.Equal(t, models.ErrNotAttached, d.EventAssertion("boom"))
	require.ErrorIs(t, d.Resume(models.Resume), ErrNotStopped)
}

// park runs fn on its own goroutine and waits until the debugger reports it parked.
func park(t *testing.T, d *Debugger, fn func() models.Status) chan models.Status {
	ret := make(chan models.Status, 1)
	go func() { ret <- fn() }()
	require.Eventually(t, func() bool {
		_, parked := d.Parked()
		return parked
	}, 5*time.Second, time.Millisecond)
	return ret
}

func TestEventWaitsForDecision(t *testing.T) {
	d, _ := newDebugger(t)
	n := make(notes, 4)
	s := d.attach(n)
	defer d.detach(s)

	rc := park(t, d, func() models.Status { return d.EventBreakpoint(models.EventBreakpoint) })
	require.Equal(t, "\nstopped: breakpoint at 0x00001000\n", n.next(t))
	ev, _ := d.Parked()
	require.Equal(t, models.EventBreakpoint, ev)

	require.NoError(t, d.Resume(models.DbgStep))
	require.Equal(t, models.DbgStep, <-rc)
	_, parked := d.Parked()
	require.False(t, parked)

	rc = park(t, d, func() models.Status { return d.EventAssertion("bad cr3") })
	require.True(t, strings.HasSuffix(n.next(t), ": bad cr3\n"))
	require.NoError(t, d.Resume(models.Off))
	require.Equal(t, models.Off, <-rc)
}

func TestDetachReleasesVcpu(t *testing.T) {
	d, _ := newDebugger(t)
	s := d.attach(make(notes, 4))
	rc := park(t, d, func() models.Status { return d.Event(models.EventStop) })
	d.detach(s)
	require.Equal(t, models.ErrNotAttached, <-rc)
	require.False(t, d.Attached())

	// a second console starts clean
	s = d.attach(make(notes, 4))
	defer d.detach(s)
	rc = park(t, d, func() models.Status { return d.Event(models.EventStepped) })
	require.NoError(t, d.Resume(models.Resume))
	require.Equal(t, models.Resume, <-rc)
}

func TestStop(t *testing.T) {
	d, tg := newDebugger(t)
	require.Equal(t, models.Success, d.ForcedAction())
	d.Stop()
	require.True(t, tg.ff.IsSet(models.FF_DBGF))
	require.Equal(t, models.DbgStop, d.ForcedAction())
	require.Equal(t, models.Success, d.ForcedAction())
}

func TestReadMem(t *testing.T) {
	d, _ := newDebugger(t)
	copy(d.mem.(flatMem)[0x200:], "vmsched")
	buf, err := d.ReadMem(0x200, 7)
	require.NoError(t, err)
	require.Equal(t, "vmsched", string(buf))

	_, err = d.ReadMem(0xfffff000, 4)
	require.Error(t, err)
}

type scripted []string

func (s *scripted) Readline() (string, error) {
	if len(*s) == 0 {
		return "", errors.New("script ran out")
	}
	line := (*s)[0]
	*s = (*s)[1:]
	return line, nil
}

func TestConsole(t *testing.T) {
	d, _ := newDebugger(t)
	s := d.attach(make(notes, 4))
	defer d.detach(s)
	rc := park(t, d, func() models.Status { return d.Event(models.EventStop) })

	out := make(notes, 16)
	c := &cmd.Context{ReadWriter: struct {
		notes
		*strings.Reader
	}{out, strings.NewReader("")}, M: d}
	lines := scripted{"break 0x1234", "step", "quit"}
	require.NoError(t, d.console(context.Background(), &lines, c))
	require.Equal(t, models.DbgStep, <-rc)
	require.Equal(t, 1, d.bps.Len())
	require.Equal(t, "breakpoint at 0x00001234\n", out.next(t))
}
