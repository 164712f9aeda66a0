package em

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// VCpu schedules one virtual cpu across the raw, hardware and software engines.
type VCpu struct {
	Collaborators

	cfg   *models.Config
	ff    *models.ForcedActions
	guest *cpu.Context
	log   zerolog.Logger
	lock  models.ExecLock

	state    int32
	forceRaw atomic.Bool

	// interrupt shadow: the instruction at inhibitPC runs before any interrupt is taken
	inhibitPC uint32

	ffDone bool
	passes uint64
	status models.StatusDiff
}

func New(cfg *models.Config, ff *models.ForcedActions, guest *cpu.Context, c Collaborators, log zerolog.Logger) (*VCpu, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "em.New() failed")
	}
	if ff == nil || guest == nil {
		return nil, errors.New("em.New() needs a flag set and a guest context")
	}
	c.fill()
	return &VCpu{
		Collaborators: c,
		cfg:           cfg,
		ff:            ff,
		guest:         guest,
		log:           log.With().Str("component", "em").Logger(),
		status:        models.StatusDiff{Color: cfg.Color},
	}, nil
}

func (v *VCpu) State() models.State {
	return models.State(atomic.LoadInt32(&v.state))
}

func (v *VCpu) setState(s models.State) {
	old := models.State(atomic.SwapInt32(&v.state, int32(s)))
	if old != s {
		v.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state")
	}
}

// ForceRaw reports whether the guest pc was inside a patch region when raw execution last stopped.
func (v *VCpu) ForceRaw() bool { return v.forceRaw.Load() }

func (v *VCpu) Flags() *models.ForcedActions { return v.ff }

// Inspect runs fn with the guest context while the scheduler is parked between transitions.
// fn must not call back into the VCpu.
func (v *VCpu) Inspect(fn func(ctx *cpu.Context)) {
	v.lock.Inspect(func() { fn(v.guest) })
}

// Save persists the scheduler's own state, which is only the force-raw override.
func (v *VCpu) Save(w io.Writer) (err error) {
	v.lock.Inspect(func() { err = models.SaveForceRaw(w, v.forceRaw.Load()) })
	return errors.Wrap(err, "em.Save() failed")
}

func (v *VCpu) Load(r io.Reader) (err error) {
	v.lock.Inspect(func() {
		var forceRaw bool
		forceRaw, err = models.LoadForceRaw(r)
		v.forceRaw.Store(forceRaw)
	})
	return errors.Wrap(err, "em.Load() failed")
}

// ServiceForcedActions runs one pre-raw pass and one dispatcher pass outside the run loop.
func (v *VCpu) ServiceForcedActions(ctx context.Context) (rc models.Status) {
	if ctx.Err() != nil {
		return models.Terminate
	}
	v.lock.Inspect(func() {
		if v.ff.Pending(models.HighPriorityPreRawMask) {
			if rc = v.rawForcedActions(); rc.IsError() {
				return
			}
		}
		rc = v.service(models.Success)
	})
	return rc
}

// unlocked releases the execution lock around fn, for engine bursts and anything else that blocks.
func (v *VCpu) unlocked(fn func() models.Status) models.Status {
	v.lock.Unlock()
	defer v.lock.Lock()
	return fn()
}

// Run drives the vcpu until it is powered off, terminated, suspended or dies. Cancelling ctx
// raises terminate. The error is non-nil only after guru meditation.
func (v *VCpu) Run(ctx context.Context) (rc models.Status, err error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	stop := context.AfterFunc(ctx, func() { v.ff.Set(models.FF_TERMINATE) })
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			abort, ok := r.(*models.Abort)
			if !ok {
				panic(r)
			}
			v.log.Error().Stringer("rc", abort.Status).Str("reason", abort.Reason).Msg("fatal abort")
			rc, err = v.meditate(abort.Status, abort.Reason, true)
		}
	}()

	v.Clock.Resume()
	v.ffDone = false
	rc = models.Success
	v.setState(v.Select())

	for {
		if !v.ffDone && !rc.IsTerminal() && v.ff.Pending(models.AllButRawMask) {
			rc = v.service(rc)
			if (rc == models.RescheduleREM || rc == models.RescheduleHwAcc) && v.forceRaw.Load() {
				rc = models.RescheduleRaw
			}
		} else if v.ffDone {
			v.ffDone = false
		}

		switch rc {
		case models.Success:
		case models.RescheduleRaw:
			// raw and hardware execution can't coexist in one vm
			if v.cfg.HwAccel {
				v.setState(v.Select())
			} else {
				v.setState(models.StateRaw)
			}
		case models.RescheduleHwAcc:
			v.setState(models.StateHwAcc)
		case models.RescheduleREM:
			v.setState(models.StateEmulated)
		case models.Resume, models.Reschedule, models.Reset:
			v.setState(v.Select())
		case models.Halt:
			v.setState(models.StateHalted)
		case models.Suspend:
			v.setState(models.StateSuspended)
		case models.Off, models.Terminate:
			v.setState(models.StateTerminating)
			v.Clock.Pause()
			return rc, nil
		case models.DbgStop, models.DbgBreakpoint, models.DbgStep, models.DbgStepped:
			if v.State() == models.StateRaw {
				v.setState(models.StateDebugGuestRaw)
			} else {
				v.setState(models.StateDebugGuestEmulated)
			}
		case models.DbgHyperStepped, models.DbgHyperBreakpoint, models.DbgHyperAssertion:
			v.setState(models.StateDebugHyper)
		default:
			if !rc.IsError() {
				v.log.Error().Stringer("rc", rc).Msg("unexpected informational status")
				rc = models.ErrInternal
			}
			v.setState(models.StateGuruMeditation)
		}

		v.lock.Yield()

		switch v.State() {
		case models.StateRaw:
			rc, v.ffDone = v.execRaw()
		case models.StateHwAcc:
			rc, v.ffDone = v.execHwAcc()
		case models.StateEmulated:
			rc, v.ffDone = v.execREM()
		case models.StateHalted:
			rc = v.waitHalted(ctx)
		case models.StateSuspended:
			v.Clock.Pause()
			return models.Suspend, nil
		case models.StateDebugGuestRaw, models.StateDebugGuestEmulated:
			v.Clock.Pause()
			rc = v.debug(rc)
			v.Clock.Resume()
		case models.StateDebugHyper:
			v.Clock.Pause()
			rc = v.debug(rc)
			if rc.IsError() {
				return v.meditate(rc, "hypervisor debug event", false)
			}
			v.Clock.Resume()
		case models.StateGuruMeditation:
			return v.meditate(rc, "", true)
		default:
			v.log.Error().Stringer("state", v.State()).Msg("invalid state in run loop")
			return v.meditate(models.ErrInternal, "invalid state "+v.State().String(), false)
		}
	}
}
