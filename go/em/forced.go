package em

import (
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// rawForcedActions brings the structures guest code depends on up to date. The order matters:
// descriptor syncs may raise the TSS flag, and the page sync must see the final selectors.
func (v *VCpu) rawForcedActions() models.Status {
	ff, g := v.ff, v.guest

	if ff.Pending(models.FF_SELM_SYNC_GDT | models.FF_SELM_SYNC_LDT) {
		if rc := v.Descriptors.SyncDescriptorTables(g); rc.IsError() {
			return rc
		}
		ff.Clear(models.FF_SELM_SYNC_GDT | models.FF_SELM_SYNC_LDT)
	}
	if ff.IsSet(models.FF_TRPM_SYNC_IDT) {
		if rc := v.Traps.SyncIDT(); rc.IsError() {
			return rc
		}
		ff.Clear(models.FF_TRPM_SYNC_IDT)
	}
	if ff.IsSet(models.FF_SELM_SYNC_TSS) {
		if rc := v.Descriptors.SyncTSS(g); rc.IsError() {
			return rc
		}
		ff.Clear(models.FF_SELM_SYNC_TSS)
	}

	if ff.Pending(models.FF_PGM_SYNC_CR3 | models.FF_PGM_SYNC_CR3_NON_GLOBAL) {
		if rc := v.syncCR3(); rc.IsError() {
			return rc
		}
		rc := v.Pages.PrefetchPage(g.FlatPC())
		if rc == models.Success {
			rc = v.Pages.PrefetchPage(g.FlatSP())
		}
		if rc != models.Success {
			if rc != models.PgmSyncCR3 {
				return rc
			}
			// one retry, the prefetch ran out of shadow pages
			if rc := v.syncCR3(); rc.IsError() {
				return rc
			}
		}
	}

	if ff.IsSet(models.FF_PGM_NEED_HANDY_PAGES) {
		if rc := v.Pages.AllocateReservePages(); rc.IsError() {
			return rc
		}
		ff.Clear(models.FF_PGM_NEED_HANDY_PAGES)
	}
	return models.Success
}

func (v *VCpu) syncCR3() models.Status {
	g := v.guest
	global := v.ff.IsSet(models.FF_PGM_SYNC_CR3)
	rc := v.Pages.SyncPageDirectory(g.CR0, g.CR3, g.CR4, global)
	if !rc.IsError() {
		v.ff.Clear(models.FF_PGM_SYNC_CR3 | models.FF_PGM_SYNC_CR3_NON_GLOBAL)
	}
	return rc
}

// highPriorityPost runs right after every burst, before the exit code is looked at.
func (v *VCpu) highPriorityPost(rc models.Status) models.Status {
	if v.ff.TestAndClear(models.FF_PDM_CRITSECT) {
		v.CritSect.FlushPending()
	}
	if v.ff.TestAndClear(models.FF_CSAM_PENDING_ACTION) {
		v.Scanner.DoPendingAction()
	}
	return rc
}

// service runs every pending forced action in three tiers and folds the handler results into rc.
// Terminate and power-off return as soon as they are seen and stay raised. No handler runs twice
// in one pass: a flag raised again after its handler ran waits for the next pass.
func (v *VCpu) service(rc models.Status) models.Status {
	ff, g := v.ff, v.guest
	var debugged, polled bool
	v.log.Trace().Stringer("ff", ff.Load()).Stringer("rc", rc).Msg("forced actions")

	if ff.Pending(models.NormalPriorityPostMask) {
		if ff.IsSet(models.FF_TERMINATE) {
			return models.Terminate
		}
		if ff.IsSet(models.FF_OFF) {
			return models.Off
		}
		if ff.TestAndClear(models.FF_DBGF) {
			rc = rc.Merge(v.Debugger.ForcedAction())
			debugged = true
		}
		if ff.IsSet(models.FF_RESET) {
			rc = rc.Merge(v.reset())
			ff.Clear(models.FF_RESET)
		}
		if ff.IsSet(models.FF_CSAM_SCAN_PAGE) {
			v.Scanner.ScanCode(g, g.FlatPC())
			ff.Clear(models.FF_CSAM_SCAN_PAGE)
		}
	}

	if ff.Pending(models.NormalPriorityMask) {
		if ff.TestAndClear(models.FF_PDM_QUEUES) {
			rc = rc.Merge(v.Queues.FlushPending())
		}
		if ff.TestAndClear(models.FF_PDM_DMA) {
			rc = rc.Merge(v.DMA.FlushPending())
		}
		// the queue raises the flag again for anything it leaves behind
		if ff.TestAndClear(models.FF_REQUEST) {
			rc2 := v.Requests.Process()
			if rc2.IsTerminal() {
				return rc2
			}
			rc = rc.Merge(rc2)
		}
		if ff.TestAndClear(models.FF_REM_HANDLER_NOTIFY) {
			v.Soft.ReplayHandlerNotifications()
		}
		if ff.TestAndClear(models.FF_PDM_POLL) {
			rc = rc.Merge(v.Poller.FlushPending())
			polled = true
		}
	}

	v.passes++
	if v.passes%4 == 0 && !polled {
		rc = rc.Merge(v.Poller.FlushPending())
	}

	if ff.Pending(models.HighPriorityPreMask) {
		if ff.Pending(models.HighPriorityPreRawMask) {
			rc = rc.Merge(v.rawForcedActions())
		}

		// timers before interrupts, an expiring timer may raise one
		if ff.TestAndClear(models.FF_TIMER) {
			rc = rc.Merge(v.Timers.FlushPending())
		}

		if ff.IsSet(models.FF_INHIBIT_INTERRUPTS) {
			// the shadow stays up while the pc still sits on the protected instruction
			if g.EIP != v.inhibitPC {
				ff.Clear(models.FF_INHIBIT_INTERRUPTS)
			}
			rc = rc.Merge(v.shadowTarget())
		}

		if !ff.IsSet(models.FF_INHIBIT_INTERRUPTS) &&
			(rc == models.Success || rc.IsReschedule()) &&
			!v.Traps.HasTrap() &&
			v.Patches.InterruptsEnabled(g) &&
			!v.Hw.HasLatchedEvent() {

			if ff.Pending(models.InterruptMask) {
				rc = rc.Merge(v.injectInterrupt())
			} else if v.Soft.PendingInterrupt() {
				rc = rc.Merge(models.RescheduleREM)
			}
		}

		if ff.TestAndClear(models.FF_PGM_NEED_HANDY_PAGES) {
			rc = rc.Merge(v.Pages.AllocateReservePages())
		}
		if !debugged && ff.TestAndClear(models.FF_DBGF) {
			rc = rc.Merge(v.Debugger.ForcedAction())
		}
		if ff.IsSet(models.FF_TERMINATE) {
			return models.Terminate
		}
		if ff.IsSet(models.FF_OFF) {
			return models.Off
		}
		if ff.TestAndClear(models.FF_DEBUG_SUSPEND) {
			return models.Suspend
		}
	}
	return rc
}

// shadowTarget is the engine that has to run the instruction in the interrupt shadow.
func (v *VCpu) shadowTarget() models.Status {
	switch {
	case v.Hw.Active():
		return models.RescheduleHwAcc
	case v.cfg.RawEnabled() && v.Patches.InterruptsEnabled(v.guest):
		return models.RescheduleRaw
	}
	return models.RescheduleREM
}

func (v *VCpu) injectInterrupt() models.Status {
	for _, src := range []struct {
		flag models.FF
		ic   InterruptController
	}{{models.FF_INTERRUPT_APIC, v.APIC}, {models.FF_INTERRUPT_PIC, v.PIC}} {
		if !v.ff.IsSet(src.flag) {
			continue
		}
		vector, ok := src.ic.PendingInterrupt()
		if !ok {
			// raised without anything behind it
			v.ff.Clear(src.flag)
			continue
		}
		v.log.Debug().Uint8("vector", vector).Msg("inject interrupt")
		return v.Traps.InjectTrap(vector, cpu.NoErrorCode, models.TrapHardwareInt)
	}
	return models.Success
}

// setInhibit opens an interrupt shadow over the instruction at pc.
func (v *VCpu) setInhibit(pc uint32) {
	v.inhibitPC = pc
	v.ff.Set(models.FF_INHIBIT_INTERRUPTS)
}

func (v *VCpu) reset() models.Status {
	rc := v.Resetter.Reset()
	v.forceRaw.Store(false)
	v.inhibitPC = 0
	v.ff.Clear(models.FF_INHIBIT_INTERRUPTS)
	v.Traps.ResetTrap()
	v.log.Info().Stringer("rc", rc).Msg("reset")
	return rc
}
