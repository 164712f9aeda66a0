package cmd

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lunixbochs/vmsched/go/cpu/unicorn"
	"github.com/lunixbochs/vmsched/go/cpu/x86"
	"github.com/lunixbochs/vmsched/go/debug"
	"github.com/lunixbochs/vmsched/go/dev"
	"github.com/lunixbochs/vmsched/go/em"
	"github.com/lunixbochs/vmsched/go/loader"
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
	"github.com/lunixbochs/vmsched/go/req"
	"github.com/lunixbochs/vmsched/go/tm"
)

// Machine is one virtual cpu with the software engine, the demonstration devices and the
// debugger wired to the scheduler.
type Machine struct {
	cfg   *models.Config
	log   zerolog.Logger
	image loader.Loader

	ff    models.ForcedActions
	guest cpu.Context
	bps   models.Breakpoints

	Engine *unicorn.Engine
	Traps  *x86.Traps
	Ports  *dev.PortBus
	Pic    *dev.Pic
	Exit   *dev.Exit
	Clock  *tm.Clock
	Timers *tm.Timers
	Queue  *req.Queue
	Dbg    *debug.Debugger
	VCpu   *em.VCpu
}

// NewMachine loads cfg.Image and boots it. Guest writes to the console port go to console.
func NewMachine(cfg *models.Config, log zerolog.Logger, console io.Writer) (*Machine, error) {
	if cfg.RawEnabled() {
		return nil, errors.New("raw mode needs a raw engine, this build only has the software engine")
	}
	image, err := loader.LoadFile(cfg.Image, cfg.LoadAddr, cfg.Entry)
	if err != nil {
		return nil, err
	}
	m := &Machine{cfg: cfg, log: log, image: image}

	m.Queue = req.NewQueue(&m.ff, log)
	m.Ports = dev.NewPortBus(log)
	m.Exit = dev.NewExit(m.Queue)
	if err := m.Ports.Register("console", dev.ConsolePort, 1, dev.NewConsole(console)); err != nil {
		return nil, err
	}
	if err := m.Ports.Register("exit", dev.ExitPort, 1, m.Exit); err != nil {
		return nil, err
	}

	if m.Engine, err = unicorn.New(cfg, &m.ff, m.Ports, &m.bps, log); err != nil {
		return nil, err
	}
	m.Traps = x86.NewTraps(m.Engine, &m.guest, log)
	m.Engine.SetTraps(m.Traps)
	if err := m.Engine.Boot(&m.guest, image); err != nil {
		m.Engine.Close()
		return nil, err
	}

	m.Pic = dev.NewPic(&m.ff, models.FF_INTERRUPT_PIC)
	m.Clock = tm.NewClock()
	m.Timers = tm.NewTimers(m.Clock, &m.ff, log)
	if cfg.TickPeriod > 0 {
		vector := cfg.TickVector
		m.Timers.ArmPeriodic(cfg.TickPeriod, func() models.Status {
			m.Pic.Raise(vector)
			return models.Success
		})
	}

	m.Dbg = debug.NewDebugger(&m.bps, m.Engine, image, log)
	m.Dbg.Color = cfg.Color
	m.VCpu, err = em.New(cfg, &m.ff, &m.guest, em.Collaborators{
		Traps:    m.Traps,
		Soft:     m.Engine,
		Disas:    x86.NewDecoder(m.Engine),
		Interp:   x86.NewInterp(m.Engine, m.Ports, m.Traps, log),
		PIC:      m.Pic,
		Timers:   m.Timers,
		Requests: m.Queue,
		Debugger: m.Dbg,
		Resetter: m,
		Clock:    m.Clock,
	}, log)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Dbg.SetTarget(m.VCpu)
	return m, nil
}

// Reset reloads the image and restarts the guest at its entry point. It runs on the vcpu
// goroutine from the forced action dispatcher.
func (m *Machine) Reset() models.Status {
	m.Traps.ResetTrap()
	if err := m.Engine.Boot(&m.guest, m.image); err != nil {
		m.log.Error().Err(err).Msg("reset failed")
		return models.ErrInternal
	}
	return models.Reset
}

func (m *Machine) LoadState(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open savestate")
	}
	defer f.Close()
	return m.VCpu.Load(f)
}

func (m *Machine) SaveState(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create savestate")
	}
	if err := m.VCpu.Save(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close savestate")
}

// Run drives the vcpu until it stops, serving debug consoles on ln when it is not nil.
// Cancelling ctx terminates the guest.
func (m *Machine) Run(ctx context.Context, ln net.Listener) (models.Status, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if ln != nil {
		m.log.Info().Stringer("addr", ln.Addr()).Msg("waiting for debug console")
		g.Go(func() error { return m.Dbg.Serve(ctx, ln) })
	}
	var rc models.Status
	g.Go(func() error {
		defer cancel()
		var err error
		rc, err = m.VCpu.Run(ctx)
		return err
	})
	err := g.Wait()
	return rc, err
}

// ExitCode prefers the code the guest wrote to the exit port.
func (m *Machine) ExitCode(rc models.Status) int {
	if code, ok := m.Exit.Code(); ok && rc == models.Off {
		return code
	}
	return int(models.ExitFor(rc))
}

func (m *Machine) Close() {
	m.Timers.Close()
	m.Engine.Close()
}
