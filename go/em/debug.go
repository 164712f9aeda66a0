package em

import (
	"github.com/lunixbochs/vmsched/go/models"
)

// debug hands a debug event to the debugger and keeps going until the debugger lets the guest
// run again. The result is fed back into the run loop. Called with the clock paused.
func (v *VCpu) debug(rc models.Status) models.Status {
	var last models.Status
	for {
		last = rc
		switch {
		case rc == models.DbgStep:
			if v.State() == models.StateDebugGuestRaw {
				rc = v.rawStep()
			} else if v.State() == models.StateDebugHyper {
				if rc = v.resumeHyper(); rc == models.Success {
					rc = models.DbgHyperStepped
				}
			} else {
				rc = v.remStep()
			}
			// a fresh event from the step is reported on the next round
			if rc.IsDebug() {
				continue
			}
			return rc

		case rc == models.DbgStepped:
			rc = v.event(models.EventStepped)
		case rc == models.DbgBreakpoint:
			rc = v.unlocked(func() models.Status { return v.Debugger.EventBreakpoint(models.EventBreakpoint) })
		case rc == models.DbgStop:
			rc = v.event(models.EventStop)
		case rc == models.DbgHyperStepped:
			rc = v.event(models.EventSteppedHyper)
		case rc == models.DbgHyperBreakpoint:
			rc = v.unlocked(func() models.Status { return v.Debugger.EventBreakpoint(models.EventBreakpointHyper) })
		case rc == models.DbgHyperAssertion:
			rc = v.unlocked(func() models.Status { return v.Debugger.EventAssertion("hypervisor assertion") })
		case rc.IsError():
			// guru meditation, the debugger gets one look and the error stands
			if r := v.event(models.EventFatal); r != models.Success && r != models.ErrNotAttached {
				v.log.Debug().Stringer("rc", r).Msg("debugger result ignored after fatal error")
			}
			return rc
		default:
			v.log.Error().Stringer("rc", rc).Msg("unexpected status in debug loop")
			return models.ErrInternal
		}

		if rc == models.ErrNotAttached {
			rc = v.detached(last)
		}

		switch rc {
		case models.Success, models.Resume:
			if last == models.DbgHyperStepped || last == models.DbgHyperBreakpoint {
				if rc = v.resumeHyper(); rc == models.Success {
					rc = models.Resume
				}
				return rc
			}
			return models.Resume
		case models.Reschedule, models.RescheduleRaw, models.RescheduleHwAcc, models.RescheduleREM,
			models.Off, models.Terminate, models.Reset, models.Suspend, models.Halt:
			return rc
		case models.DbgStep, models.DbgStop, models.DbgStepped, models.DbgBreakpoint,
			models.DbgHyperStepped, models.DbgHyperBreakpoint:
			// the debugger asked for more
		default:
			if !rc.IsError() {
				v.log.Error().Stringer("rc", rc).Stringer("event", last).Msg("unexpected debugger result")
				return models.ErrInternal
			}
			return rc
		}
	}
}

func (v *VCpu) event(kind models.DebugEvent) models.Status {
	return v.unlocked(func() models.Status { return v.Debugger.Event(kind) })
}

// detached decides what an event nobody is listening for turns into.
func (v *VCpu) detached(last models.Status) models.Status {
	switch last {
	case models.DbgHyperStepped, models.DbgHyperBreakpoint:
		return models.Success
	case models.DbgHyperAssertion:
		return models.ErrRing0Assertion
	}
	// guest events without a debugger just let the guest continue
	return models.Resume
}
