package em

import (
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// preRaw runs the pre-raw pass if anything in it is pending. Anything other than Success ends the burst loop.
func (v *VCpu) preRaw() models.Status {
	if !v.ff.Pending(models.HighPriorityPreRawMask) {
		return models.Success
	}
	rc := v.rawForcedActions()
	if rc != models.Success && !rc.IsError() {
		rc = v.classify(rc)
	}
	return rc
}

// burst checks the context out into a private copy compressed for ring 1, runs fn on it with the
// execution lock released and checks it back in. Inspectors only ever see the checked in context.
func (v *VCpu) burst(fn func(ctx *cpu.Context) models.Status) models.Status {
	work := *v.guest
	frame := cpu.RawEnter(&work)
	rc := v.unlocked(func() models.Status { return fn(&work) })
	cpu.RawLeave(&work, frame)
	*v.guest = work
	return rc
}

// execRaw runs the guest on the raw engine until something needs the outer loop.
func (v *VCpu) execRaw() (models.Status, bool) {
	g := v.guest
	v.forceRaw.Store(false)
	for {
		if rc := v.preRaw(); rc != models.Success {
			return rc, false
		}
		// supervisor code is checked for things we need to monitor before it runs
		if g.SS.RPL() <= 1 && !g.IsV86() && !v.Patches.IsPatchAddr(g.EIP) {
			v.Scanner.ScanCode(g, g.FlatPC())
		}
		v.Raw.CheckTSS(g)

		rc := v.burst(v.Raw.RunBurst)

		rc = v.highPriorityPost(rc)
		if !rc.IsScheduling() {
			rc = v.classify(rc)
		}
		rc = v.updateForceRaw(rc)
		if rc != models.Success {
			return rc, false
		}

		if v.ff.Pending(models.AllButRawMask) {
			rc = v.service(rc)
			if rc != models.Success && rc != models.RescheduleRaw {
				return rc, true
			}
		}
	}
}

// rawStep executes a single guest instruction on the raw engine with the trap flag set.
func (v *VCpu) rawStep() models.Status {
	g := v.guest
	if rc := v.preRaw(); rc != models.Success {
		return rc
	}
	hadTF := g.TF()
	g.SetFlags(cpu.EFL_TF)
	rc := v.burst(v.Raw.RunBurst)
	if !hadTF {
		g.ClearFlags(cpu.EFL_TF)
	}
	rc = v.highPriorityPost(rc)

	if rc == models.RawGuestTrap {
		if t, err := v.Traps.QueryTrap(); err == nil && t.Vector == cpu.XCPT_DB {
			v.Traps.ResetTrap()
			return models.DbgStepped
		}
	}
	if !rc.IsScheduling() {
		rc = v.classify(rc)
	}
	rc = v.updateForceRaw(rc)
	if rc == models.Success {
		return models.DbgStepped
	}
	return rc
}

// resumeHyper continues the raw engine after it stopped inside hypervisor code for the debugger.
func (v *VCpu) resumeHyper() models.Status {
	g := v.guest
	g.SetFlags(cpu.EFL_RF)
	rc := v.burst(v.Raw.ResumeHyper)
	rc = v.highPriorityPost(rc)
	if !rc.IsScheduling() {
		rc = v.classify(rc)
	}
	return v.updateForceRaw(rc)
}
