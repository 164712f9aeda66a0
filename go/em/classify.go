package em

import (
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// classify turns an engine exit code into Success (keep running the same engine) or a code for the
// run loop. Recoverable exits are handled here and never leave this function.
func (v *VCpu) classify(rc models.Status) models.Status {
	g := v.guest
	switch rc {
	case models.Success, models.RescheduleRaw, models.RescheduleHwAcc,
		models.RawInterrupt, models.RawInterruptHyper, models.RawToR3, models.RawTimerPending,
		models.PendingRequest, models.CsamPendingAction:
		return models.Success

	// the sync flag is already up, the dispatcher deals with it
	case models.PgmSyncCR3:
		return models.Success

	case models.RawExceptionPrivileged, models.PatchTrapGP, models.RawEmulateInstrHlt:
		return v.privileged()

	case models.RawGuestTrap:
		if v.Patches.IsInsidePatchJump(g.EIP) {
			v.log.Error().Uint32("eip", g.EIP).Msg("guest trap inside a patch jump")
			return models.ErrPatchConflict
		}
		return v.guestTrap()

	case models.PatchTrapPF, models.PatchInt3:
		return v.patchTrap(rc)

	case models.PatchDuplicateFunction:
		if err := v.Patches.DuplicateFunction(g); err != nil {
			v.log.Warn().Err(err).Msg("duplicate function request failed")
		}
		return models.Success
	case models.PatchCheckPage:
		if err := v.Patches.HandleMonitoredPage(); err != nil {
			v.log.Warn().Err(err).Msg("monitored page check failed")
		}
		return models.Success

	case models.HcMMIOPatchRead:
		if err := v.Patches.InstallPatch(g.FlatPC(), v.patchFlags()|models.PatchMMIO); err != nil {
			return v.executeInstruction("mmio", models.Success)
		}
		return models.Success
	case models.HcMMIOPatchWrite, models.HcMMIORead, models.HcMMIOWrite, models.HcMMIOReadWrite:
		return v.executeInstruction("mmio", models.Success)

	case models.HcIOPortRead, models.HcIOPortWrite:
		return v.ioInstruction()

	case models.PgmChangeMode:
		rc = v.Pages.ChangeMode(g.CR0, g.CR4, g.EFER)
		if !rc.IsError() {
			return models.Reschedule
		}
		return rc

	// an interrupt gate was hit, these have to go straight to the emulator
	case models.RawInterruptPending, models.RawRingSwitchInt:
		if v.Traps.HasTrap() {
			if t, err := v.Traps.QueryTrap(); err == nil && !v.Traps.GuestTrapHandler(t.Vector) {
				v.Scanner.CheckGates(t.Vector, 1)
			}
		}
		return models.RescheduleREM

	case models.RawRingSwitch:
		return v.ringSwitch()

	case models.ErrFlushedPagesOverflow:
		v.Soft.ReplayInvalidatedPages()
		return models.Success

	case models.RawEmulateInstr, models.PatchEmulateInstr,
		models.RawEmulateInstrLdtFault, models.RawEmulateInstrGdtFault, models.RawEmulateInstrIdtFault,
		models.RawEmulateInstrTssFault, models.RawEmulateInstrPdFault:
		return v.executeInstruction("emulate", models.Success)
	case models.PatchPendingIrqAfterIret:
		return v.executeInstruction("iret", models.PatchPendingIrqAfterIret)

	case models.RawStaleSelector, models.RawIretTrap:
		// never hand a patch address to the emulator
		if v.Patches.IsPatchAddr(g.EIP) {
			if pc, ok := v.Patches.PatchToGuest(g.EIP); ok {
				g.EIP = pc
			}
		}
		return models.RescheduleREM

	case models.ErrTrpmPanic, models.ErrTrpmDontPanic, models.ErrRing0Assertion, models.ErrPatchConflict:
		return rc

	case models.ErrVmxInvalidState, models.ErrVmxUnableToStart, models.ErrVmxUnexpectedExit:
		v.Hw.CheckError(rc)
		return rc
	}

	// anything already fatal goes straight up
	if rc.IsScheduling() || rc.IsError() {
		return rc
	}
	v.log.Error().Stringer("rc", rc).Int32("code", int32(rc)).Msg("unknown exit code")
	return models.ErrUnknownExit
}

// updateForceRaw pins execution to the raw engine while the pc is inside patch code, which must
// never be interrupted halfway.
func (v *VCpu) updateForceRaw(rc models.Status) models.Status {
	if v.Patches.IsPatchAddr(v.guest.EIP) {
		if rc == models.Reschedule || rc == models.RescheduleREM {
			rc = models.Success
		}
		v.forceRaw.Store(true)
	} else {
		v.forceRaw.Store(false)
	}
	return rc
}

func (v *VCpu) patchFlags() models.PatchFlags {
	if v.guest.Is32Bit() {
		return models.PatchCode32
	}
	return 0
}

// privileged handles an instruction the raw engine refused to run.
func (v *VCpu) privileged() models.Status {
	g := v.guest
	if v.Patches.Enabled() {
		if v.Patches.IsInsidePatchJump(g.EIP) {
			v.log.Error().Uint32("eip", g.EIP).Msg("privileged instruction inside a patch jump")
			return models.ErrPatchConflict
		}
		if g.SS.RPL() == 0 && !g.IsV86() && !v.Patches.IsPatchAddr(g.EIP) {
			if err := v.Patches.InstallPatch(g.FlatPC(), v.patchFlags()); err == nil {
				v.log.Debug().Uint32("pc", g.FlatPC()).Msg("patched privileged instruction")
				return models.Success
			}
		}
	}

	in, err := v.Disas.Decode(g)
	if err == nil && g.SS.RPL() == 0 && !g.IsV86() && g.Is32Bit() {
		v.log.Debug().Stringer("instr", in).Uint32("eip", g.EIP).Msg("privileged")
		switch in.Op {
		case models.OpCLI:
			g.ClearFlags(cpu.EFL_IF)
			g.EIP += in.Len
			// interrupts are off, only the emulator can run this now
			return models.RescheduleREM
		case models.OpSTI:
			g.SetFlags(cpu.EFL_IF)
			g.EIP += in.Len
			v.setInhibit(g.EIP)
			return models.Success
		case models.OpHLT, models.OpMovCR, models.OpMovDR:
			if in.Op == models.OpHLT && v.Patches.IsPatchAddr(g.EIP) {
				pc, ok := v.Patches.PatchToGuest(g.EIP)
				if !ok {
					models.Fatal(models.ErrPatchConflict, "unable to translate patch address %#08x", g.EIP)
				}
				g.EIP = pc
			}
			rc := v.Interp.Interpret(g, in)
			if !rc.IsError() {
				g.EIP += in.Len
				if in.Op == models.OpMovCR && in.CRWrite {
					// a cr0 write in patch code that leaves protected paged mode has to continue in the guest
					const want = cpu.CR0_WP | cpu.CR0_PG | cpu.CR0_PE
					if v.Patches.IsPatchAddr(g.EIP) && g.CR0&want != want {
						pc, ok := v.Patches.PatchToGuest(g.EIP)
						if !ok {
							models.Fatal(models.ErrPatchConflict, "unable to translate patch address %#08x", g.EIP)
						}
						g.EIP = pc
					}
					// the paging or execution mode may have changed
					return models.Reschedule
				}
				return rc
			}
			if rc != models.ErrInterpreter {
				return rc
			}
		}
	}

	if v.Patches.IsPatchAddr(g.EIP) {
		return v.patchTrap(models.PatchTrapGP)
	}
	return v.executeInstruction("privileged", models.Success)
}

func (v *VCpu) guestTrap() models.Status {
	g := v.guest
	trap, err := v.Traps.QueryTrap()
	if err != nil {
		v.log.Error().Err(err).Msg("guest trap exit without a trap")
		return models.ErrNoTrap
	}
	if v.Hw.Active() {
		return models.RescheduleHwAcc
	}
	if g.CPL() == 0 && v.Patches.IsPatchAddr(g.EIP) {
		return v.patchTrap(models.RawGuestTrap)
	}

	// the gate may be patchable now, in which case the trap goes straight back to the guest
	if !v.Traps.GuestTrapHandler(trap.Vector) {
		v.Scanner.CheckGates(trap.Vector, 1)
		if v.Traps.GuestTrapHandler(trap.Vector) {
			if rc := v.rawForcedActions(); rc.IsError() {
				return rc
			}
			if v.Traps.ForwardTrap(g, trap) == models.Success {
				v.Traps.ResetTrap()
				return models.RescheduleRaw
			}
		}
	}

	if g.SS.RPL() <= 1 && !g.IsV86() {
		v.Scanner.ScanCode(g, g.FlatPC())
	}

	switch trap.Vector {
	case cpu.XCPT_UD:
		in, err := v.Disas.Decode(g)
		if err == nil && (in.Op == models.OpMONITOR || in.Op == models.OpMWAIT) && v.cfg.CpuidMonitor {
			v.Traps.ResetTrap()
			if rc := v.Interp.Interpret(g, in); !rc.IsError() {
				g.EIP += in.Len
				return rc
			}
			return v.executeInstruction("monitor", models.Success)
		}
	case cpu.XCPT_GP:
		// port access denied by the io bitmap
		if in, err := v.Disas.Decode(g); err == nil && in.PortIO() {
			v.Traps.ResetTrap()
			return v.executeInstruction("io trap", models.Success)
		}
	}

	v.log.Debug().Stringer("trap", trap).Stringer("ctx", g).Msg("guest trap")
	if trap.Vector == cpu.XCPT_PF {
		g.CR2 = trap.CR2
	}
	return models.RescheduleREM
}

// patchTrap handles a fault raised by patch code.
func (v *VCpu) patchTrap(gcret models.Status) models.Status {
	g := v.guest
	var vector uint8
	switch gcret {
	case models.PatchInt3:
		vector = cpu.XCPT_BP
	case models.PatchTrapGP:
		// no trap is queued for this one
		vector = cpu.XCPT_GP
	default:
		trap, err := v.Traps.QueryTrap()
		if err != nil {
			v.log.Error().Err(err).Stringer("rc", gcret).Msg("patch trap without a trap")
			return models.ErrNoTrap
		}
		vector = trap.Vector
		// the original instruction runs again
		v.Traps.ResetTrap()
	}
	if vector == cpu.XCPT_DB {
		return models.Success
	}

	v.log.Debug().Uint8("vector", vector).Uint32("eip", g.EIP).Msg("trap in patch code")
	rc, pc := v.Patches.HandleTrap(g, g.EIP)
	switch rc {
	case models.Success:
		g.EIP = pc
		if g.IF() {
			// an int3 patch over an instruction that faults on purpose has to go
			if vector == cpu.XCPT_GP && v.Patches.IsInt3Patch(g.EIP) {
				if err := v.Patches.RemovePatch(g.EIP); err != nil {
					v.log.Warn().Err(err).Msg("remove int3 patch")
				}
			}
			return v.executeInstruction("patch", models.Success)
		}
		return models.RescheduleREM
	case models.PatchEmulateInstr:
		g.EIP = pc
		return v.executeInstruction("patch emulate", models.Success)
	case models.ErrPatchDisabled:
		g.EIP = pc
		if g.IF() {
			return v.executeInstruction("patch disabled", models.Success)
		}
		return models.RescheduleREM
	case models.PatchContinue:
		return models.Success
	}
	v.log.Error().Stringer("rc", rc).Msg("unexpected patch trap result")
	return models.ErrInternal
}

// executeInstruction runs exactly one guest instruction outside the raw engine.
func (v *VCpu) executeInstruction(why string, rcGC models.Status) models.Status {
	g := v.guest
	// the emulator can't see patch code, so let the patch manager move us out first
	if v.Patches.IsPatchAddr(g.EIP) {
		rc, pc := v.Patches.HandleTrap(g, g.EIP)
		switch rc {
		case models.Success:
			g.EIP = pc
			if g.IF() || rcGC == models.PatchPendingIrqAfterIret {
				return v.executeInstruction(why, models.Success)
			}
			return models.RescheduleREM
		case models.PatchEmulateInstr:
			g.EIP = pc
			return v.executeInstruction(why, models.Success)
		case models.ErrPatchDisabled:
			g.EIP = pc
			if g.IF() {
				return v.executeInstruction(why, models.Success)
			}
			return models.RescheduleREM
		case models.PatchContinue:
			return models.Success
		}
		v.log.Error().Stringer("rc", rc).Msg("unexpected patch trap result")
		return models.ErrInternal
	}

	if in, err := v.Disas.Decode(g); err == nil {
		switch in.Op {
		case models.OpMOV, models.OpAND, models.OpOR, models.OpXOR, models.OpPOP,
			models.OpINC, models.OpDEC, models.OpXCHG:
			rc := v.Interp.Interpret(g, in)
			if !rc.IsError() {
				g.EIP += in.Len
				return rc
			}
			if rc != models.ErrInterpreter {
				return rc
			}
		}
	}
	v.log.Trace().Str("why", why).Uint32("eip", g.EIP).Msg("emulate instruction")
	rc := v.Soft.EmulateInstruction(g)
	if pc, ok := v.Soft.InhibitPC(); ok {
		v.setInhibit(pc)
	}
	return rc
}

func (v *VCpu) ioInstruction() models.Status {
	g := v.guest
	if in, err := v.Disas.Decode(g); err == nil {
		rc := models.RawEmulateInstr
		if !in.Rep {
			switch in.Op {
			case models.OpIN:
				rc = v.Interp.InterpretIN(g, in)
			case models.OpOUT:
				rc = v.Interp.InterpretOUT(g, in)
			}
		} else {
			switch in.Op {
			case models.OpINS:
				rc = v.Interp.InterpretINS(g, in)
			case models.OpOUTS:
				rc = v.Interp.InterpretOUTS(g, in)
			}
		}
		if rc == models.Success || rc.IsScheduling() {
			g.EIP += in.Len
			return rc
		}
		if rc == models.RawGuestTrap {
			return v.guestTrap()
		}
		if rc.IsError() {
			return rc
		}
	}
	return v.executeInstruction("io", models.Success)
}

func (v *VCpu) ringSwitch() models.Status {
	g := v.guest
	in, err := v.Disas.Decode(g)
	if err == nil && in.Op == models.OpSYSENTER && g.SysEnterCS != 0 {
		if err := v.Patches.InstallPatch(g.FlatPC(), v.patchFlags()); err == nil {
			v.log.Debug().Uint32("pc", g.FlatPC()).Msg("patched sysenter")
			return models.RescheduleRaw
		}
	}
	return v.executeInstruction("ring switch", models.Success)
}
