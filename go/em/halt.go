package em

import (
	"context"

	"github.com/lunixbochs/vmsched/go/models"
)

// waitHalted parks the vcpu until something external needs it. Interrupts only wake a guest that
// can take them. The wait is bounded so a flag raised without a wakeup is still seen.
func (v *VCpu) waitHalted(ctx context.Context) models.Status {
	// an interrupt was injected on the last pass, go run the handler
	if v.Traps.HasTrap() {
		return models.Reschedule
	}
	mask := models.ExternalHaltMask
	if v.guest.IF() {
		mask |= models.InterruptMask
	}
	var woke bool
	v.unlocked(func() models.Status {
		woke = v.ff.Wait(ctx, mask, v.cfg.HaltTimeout)
		return models.Success
	})
	if woke && v.guest.IF() && v.ff.Pending(models.InterruptMask) {
		return models.Reschedule
	}
	// anything else is picked up by the dispatcher on the next iteration
	return models.Success
}
