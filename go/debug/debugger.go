package debug

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/lunixbochs/readline"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/lunixbochs/vmsched/go/cpu/x86"
	"github.com/lunixbochs/vmsched/go/debug/cmd"
	"github.com/lunixbochs/vmsched/go/loader"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Target is the vcpu being debugged.
type Target interface {
	Inspect(fn func(ctx *cpu.Context))
	Flags() *models.ForcedActions
	State() models.State
}

var ErrNotStopped = errors.New("guest is not stopped")

// Debugger parks the vcpu on debug events until an attached console decides how to go on.
// With no console attached every event reports ErrNotAttached.
type Debugger struct {
	target Target
	bps    *models.Breakpoints
	mem    x86.PhysMem
	syms   loader.Loader
	log    zerolog.Logger
	Color  bool

	mu       sync.Mutex
	sessions map[*session]struct{}
	parked   bool
	event    models.DebugEvent
	stopReq  bool
	decision chan models.Status
	detached chan struct{}
}

// NewDebugger needs SetTarget before the first event. syms may be nil.
func NewDebugger(bps *models.Breakpoints, mem x86.PhysMem, syms loader.Loader, log zerolog.Logger) *Debugger {
	return &Debugger{
		bps:      bps,
		mem:      mem,
		syms:     syms,
		log:      log.With().Str("component", "debug").Logger(),
		sessions: make(map[*session]struct{}),
		decision: make(chan models.Status, 1),
		detached: make(chan struct{}),
	}
}

func (d *Debugger) SetTarget(t Target) { d.target = t }

func (d *Debugger) Inspect(fn func(ctx *cpu.Context)) { d.target.Inspect(fn) }
func (d *Debugger) Flags() *models.ForcedActions { return d.target.Flags() }
func (d *Debugger) State() models.State { return d.target.State() }
func (d *Debugger) Breakpoints() *models.Breakpoints { return d.bps }

// ReadMem reads guest memory through the guest's current paging setup.
func (d *Debugger) ReadMem(addr uint32, n int) (buf []byte, err error) {
	d.target.Inspect(func(ctx *cpu.Context) {
		buf, err = x86.ReadLinear(d.mem, ctx, addr, n)
	})
	return buf, errors.Wrapf(err, "read %#x+%d", addr, n)
}

func (d *Debugger) Symbolicate(addr uint32) string {
	if d.syms == nil {
		return ""
	}
	sym, _ := d.syms.Symbolicate(uint64(addr))
	return sym
}

func (d *Debugger) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions) > 0
}

func (d *Debugger) Parked() (models.DebugEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.event, d.parked
}

// Stop asks the vcpu to stop at its next forced action check.
func (d *Debugger) Stop() {
	d.mu.Lock()
	d.stopReq = true
	d.mu.Unlock()
	d.target.Flags().Set(models.FF_DBGF)
}

// Resume hands rc to the parked vcpu as the result of its debug event.
func (d *Debugger) Resume(rc models.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.parked {
		return ErrNotStopped
	}
	d.parked = false
	d.decision <- rc
	return nil
}

func (d *Debugger) ForcedAction() models.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopReq {
		d.stopReq = false
		return models.DbgStop
	}
	return models.Success
}

func (d *Debugger) Event(kind models.DebugEvent) models.Status {
	return d.wait(kind, "")
}

func (d *Debugger) EventBreakpoint(kind models.DebugEvent) models.Status {
	return d.wait(kind, "")
}

func (d *Debugger) EventAssertion(msg string) models.Status {
	return d.wait(models.EventAssertionHyper, msg)
}

func (d *Debugger) describe(kind models.DebugEvent, msg string) string {
	var pc uint32
	d.target.Inspect(func(ctx *cpu.Context) { pc = ctx.FlatPC() })
	out := fmt.Sprintf("\nstopped: %s at 0x%08x", kind, pc)
	if sym := d.Symbolicate(pc); sym != "" {
		out += " <" + sym + ">"
	}
	if msg != "" {
		out += ": " + msg
	}
	return out + "\n"
}

// wait blocks the calling vcpu until a console resumes it or the last console detaches.
func (d *Debugger) wait(kind models.DebugEvent, msg string) models.Status {
	if !d.Attached() {
		return models.ErrNotAttached
	}
	note := d.describe(kind, msg)

	d.mu.Lock()
	if len(d.sessions) == 0 {
		d.mu.Unlock()
		return models.ErrNotAttached
	}
	// a decision for an event whose console went away
	select {
	case <-d.decision:
	default:
	}
	d.parked, d.event = true, kind
	detached := d.detached
	for s := range d.sessions {
		s.notify(note)
	}
	d.mu.Unlock()
	d.log.Debug().Stringer("event", kind).Msg("guest parked")

	select {
	case rc := <-d.decision:
		d.log.Debug().Stringer("rc", rc).Msg("guest resumed")
		return rc
	case <-detached:
		d.mu.Lock()
		d.parked = false
		d.mu.Unlock()
		return models.ErrNotAttached
	}
}

type session struct {
	notes chan string
}

// notify drops the note if the console is not keeping up.
func (s *session) notify(note string) {
	select {
	case s.notes <- note:
	default:
	}
}

// attach registers a console whose event notes go to w.
func (d *Debugger) attach(w io.Writer) *session {
	s := &session{notes: make(chan string, 16)}
	go func() {
		for note := range s.notes {
			io.WriteString(w, note)
		}
	}()
	d.mu.Lock()
	d.sessions[s] = struct{}{}
	d.mu.Unlock()
	return s
}

func (d *Debugger) detach(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[s]; !ok {
		return
	}
	delete(d.sessions, s)
	close(s.notes)
	if len(d.sessions) == 0 {
		close(d.detached)
		d.detached = make(chan struct{})
	}
}

type lineReader interface {
	Readline() (string, error)
}

// console runs commands from lines until the reader fails or the user quits.
func (d *Debugger) console(ctx context.Context, lines lineReader, c *cmd.Context) error {
	for ctx.Err() == nil {
		line, err := lines.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			return errors.Wrap(err, "readline failed")
		}
		if err := cmd.Run(c, line); err == cmd.ErrQuit {
			return nil
		}
	}
	return nil
}

func (d *Debugger) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := d.log.With().Stringer("remote", conn.RemoteAddr()).Logger()
	log.Info().Msg("debug console attached")

	rl, err := readline.NewEx(&readline.Config{
		Prompt: "(vmsched) ",
		Stdin:  conn,
		Stdout: conn,
		Stderr: conn,
	})
	if err != nil {
		log.Error().Err(err).Msg("error opening readline for debugger")
		return
	}
	defer rl.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s := d.attach(rl.Stdout())
	defer d.detach(s)
	c := &cmd.Context{ReadWriter: conn, M: d}
	c.Diff.Color = d.Color
	if _, parked := d.Parked(); parked {
		c.Printf("guest is stopped\n")
	}
	if err := d.console(ctx, rl, c); err != nil {
		log.Error().Err(err).Msg("debug console failed")
	}
	log.Info().Msg("debug console detached")
}

// Serve accepts debug consoles on ln, one at a time, until ctx is done.
func (d *Debugger) Serve(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, 1)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "debug server accept failed")
		}
		go d.serveConn(ctx, conn)
	}
}
