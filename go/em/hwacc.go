package em

import (
	"github.com/lunixbochs/vmsched/go/models"
)

// execHwAcc runs the guest on the hardware engine. Descriptor tables are the engine's own business there.
func (v *VCpu) execHwAcc() (models.Status, bool) {
	g := v.guest
	for {
		v.ff.Clear(models.DescriptorSyncMask)
		if rc := v.preRaw(); rc != models.Success {
			return rc, false
		}

		work := *g
		rc := v.unlocked(func() models.Status { return v.Hw.RunBurst(&work) })
		*g = work

		rc = v.highPriorityPost(rc)
		if !rc.IsScheduling() {
			rc = v.classify(rc)
		}
		if rc != models.Success {
			return rc, false
		}

		if v.ff.Pending(models.AllButRawMask) {
			rc = v.service(rc)
			if rc != models.Success && rc != models.RescheduleHwAcc {
				return rc, true
			}
		}
	}
}
