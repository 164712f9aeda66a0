package em

import (
	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// Select picks the engine the guest can run on right now. It only reads state.
func (v *VCpu) Select() models.State {
	if v.forceRaw.Load() {
		return models.StateRaw
	}
	g := v.guest
	if v.cfg.HwAccel {
		// raw and hardware execution are incompatible, so a guest the hw engine refuses goes to emulation
		if v.Hw.CanExecuteGuest(g) {
			return models.StateHwAcc
		}
		return models.StateEmulated
	}

	if g.TF() || g.IsV86() {
		return models.StateEmulated
	}
	if g.CR0&(cpu.CR0_PG|cpu.CR0_PE) != cpu.CR0_PG|cpu.CR0_PE {
		return models.StateEmulated
	}
	if g.CR4&cpu.CR4_PAE != 0 && !v.cfg.CpuidPAE {
		return models.StateEmulated
	}

	if g.SS.RPL() == 3 {
		if !v.cfg.RawR3 || !g.IF() {
			return models.StateEmulated
		}
		if !g.WriteProtect() && v.cfg.RawR0 {
			return models.StateEmulated
		}
		return models.StateRaw
	}

	if !v.cfg.RawR0 || g.SS.RPL() != 0 {
		return models.StateEmulated
	}
	if !g.SS.DefBig || !g.CS.DefBig {
		return models.StateEmulated
	}
	// write protection keeps the guest from overwriting the monitor
	if !g.WriteProtect() {
		return models.StateEmulated
	}
	if v.Patches.ShouldUseRawMode(g.EIP) {
		return models.StateRaw
	}
	if !g.IF() || g.IOPL() != 0 {
		return models.StateEmulated
	}
	return models.StateRaw
}
