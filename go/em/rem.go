package em

import (
	"github.com/lunixbochs/vmsched/go/models"
)

// the emulator doesn't start a burst while any of these wait
const remStopMask = models.FF_REQUEST | models.FF_TIMER | models.FF_PDM_QUEUES | models.FF_DBGF |
	models.FF_TERMINATE | models.FF_RESET

// scanner flags only matter to raw execution
const remServiceMask = models.AllButRawMask &^ (models.FF_CSAM_SCAN_PAGE | models.FF_CSAM_PENDING_ACTION)

// execREM runs the guest on the software engine. The engine keeps its own copy of the context,
// which is written back whenever something outside the engine has to look at it.
func (v *VCpu) execREM() (rc models.Status, ffDone bool) {
	g := v.guest
	synced := false
	defer func() {
		if synced {
			v.syncBack()
		}
	}()

	for {
		if v.ff.Pending(models.HighPriorityPreRawMask) {
			if synced {
				v.syncBack()
				synced = false
			}
			if rc = v.preRaw(); rc != models.Success {
				return rc, false
			}
		}
		if !synced {
			if rc = v.Soft.Sync(g); rc != models.Success {
				return rc, false
			}
			synced = true
		}

		rc = models.Success
		if !v.ff.Pending(remStopMask) {
			rc = v.unlocked(v.Soft.RunBurst)
		}
		if v.ff.Pending(models.HighPriorityPostMask) {
			rc = v.highPriorityPost(rc)
		}
		if rc == models.RemInterruptedFF {
			rc = models.Success
		}
		if rc != models.Success {
			return rc, false
		}

		if v.ff.Pending(remServiceMask) {
			v.syncBack()
			synced = false
			rc = v.service(rc)
			if rc != models.Success && rc != models.RescheduleREM {
				return rc, true
			}
		}
	}
}

// syncBack copies the engine's registers into the guest context and keeps any interrupt shadow
// the engine left open.
func (v *VCpu) syncBack() {
	v.Soft.SyncBack(v.guest)
	if pc, ok := v.Soft.InhibitPC(); ok {
		v.setInhibit(pc)
	}
}

// remStep executes exactly one instruction on the software engine.
func (v *VCpu) remStep() models.Status {
	g := v.guest
	if rc := v.Soft.Sync(g); rc != models.Success {
		return rc
	}
	rc := v.unlocked(v.Soft.Step)
	v.syncBack()
	rc = v.highPriorityPost(rc)
	if rc == models.Success || rc == models.RemInterruptedFF {
		return models.DbgStepped
	}
	return rc
}
