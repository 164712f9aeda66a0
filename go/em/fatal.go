package em

import (
	"fmt"
	"strings"

	"github.com/lunixbochs/vmsched/go/models"
)

// meditate is the terminal fatal path: stop the clock, capture the dump, and give an attached
// debugger one look before the run ends. It is called with the execution lock held.
func (v *VCpu) meditate(rc models.Status, reason string, debug bool) (models.Status, error) {
	v.setState(models.StateGuruMeditation)
	v.Clock.Pause()
	dump := v.dump(rc)
	v.log.Error().Stringer("rc", rc).Str("reason", reason).Msg("guru meditation\n" + dump)
	if debug {
		v.debug(rc)
	}
	return rc, &models.FatalError{Status: rc, Reason: reason, Dump: dump}
}

func (v *VCpu) dump(rc models.Status) string {
	var out strings.Builder
	fmt.Fprintf(&out, "!! guru meditation %s (%d)\n", rc, int32(rc))
	fmt.Fprintf(&out, "state=%s force-raw=%v ff=%s\n", v.State(), v.forceRaw.Load(), v.ff.Load())
	if v.ff.IsSet(models.FF_INHIBIT_INTERRUPTS) {
		fmt.Fprintf(&out, "interrupts inhibited at %#08x\n", v.inhibitPC)
	}
	if v.Traps.HasTrap() {
		if t, err := v.Traps.QueryTrap(); err == nil {
			fmt.Fprintf(&out, "pending trap: %s\n", t)
		}
	}
	if in, err := v.Disas.Decode(v.guest); err == nil {
		fmt.Fprintf(&out, "%#08x: %s\n", v.guest.FlatPC(), in)
	}
	out.WriteString(v.status.Dump(v.guest))
	return out.String()
}
