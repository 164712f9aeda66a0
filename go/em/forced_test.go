package em

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

func TestServiceClearsEverything(t *testing.T) {
	r := newRig(t)
	r.pic.Vectors = []uint8{0x21}
	r.v.setInhibit(r.g.EIP)
	r.ff.Set(models.FF_TIMER | models.FF_PDM_QUEUES | models.FF_PDM_DMA | models.FF_PDM_POLL |
		models.FF_DBGF | models.FF_REQUEST | models.FF_RESET | models.FF_CSAM_SCAN_PAGE |
		models.FF_REM_HANDLER_NOTIFY | models.FF_INTERRUPT_PIC | models.FF_INHIBIT_INTERRUPTS |
		models.FF_SELM_SYNC_GDT | models.FF_PGM_SYNC_CR3 | models.FF_PGM_NEED_HANDY_PAGES)

	// the reset drops the interrupt shadow, so the interrupt goes in on the same pass
	require.Equal(t, models.Success, r.v.service(models.Success))
	require.Equal(t, models.FF(0), r.ff.Load(), "flags left behind")

	for name, n := range map[string]int{
		"timers":   r.timers.Calls,
		"queues":   r.queues.Calls,
		"dma":      r.dma.Calls,
		"poller":   r.poller.Calls,
		"requests": r.requests.Calls,
		"reset":    r.reset.Calls,
		"debugger": r.dbg.Polls,
		"notify":   r.soft.Notifies,
		"scan":     len(r.scan.Scanned),
		"tables":   r.sync.Tables,
		"cr3":      r.sync.CR3,
		"handy":    r.sync.Handy,
	} {
		require.Equal(t, 1, n, "%s handler ran %d times", name, n)
	}
	require.Len(t, r.traps.Injected, 1)
	require.Equal(t, uint8(0x21), r.traps.Injected[0].Vector)
	require.Equal(t, cpu.NoErrorCode, r.traps.Injected[0].ErrCode)
}

func TestServiceTerminateShortCircuits(t *testing.T) {
	for _, tc := range []struct {
		flag models.FF
		want models.Status
	}{
		{models.FF_TERMINATE, models.Terminate},
		{models.FF_OFF, models.Off},
	} {
		r := newRig(t)
		r.ff.Set(tc.flag | models.FF_TIMER | models.FF_REQUEST)
		require.Equal(t, tc.want, r.v.service(models.Success))
		require.True(t, r.ff.IsSet(tc.flag), "terminal flag must stay raised")
		require.Zero(t, r.timers.Calls)
		require.Zero(t, r.requests.Calls)
	}
}

func TestServiceRequestPowersOff(t *testing.T) {
	r := newRig(t)
	r.requests.Result = models.Off
	r.ff.Set(models.FF_REQUEST | models.FF_PDM_POLL | models.FF_TIMER)
	require.Equal(t, models.Off, r.v.service(models.Success))
	require.Equal(t, 1, r.requests.Calls)
	require.Zero(t, r.poller.Calls)
	require.Zero(t, r.timers.Calls)
}

func TestServiceMerge(t *testing.T) {
	r := newRig(t)
	r.timers.Result = models.RescheduleRaw
	r.queues.Result = models.Halt
	r.ff.Set(models.FF_PDM_QUEUES | models.FF_TIMER)
	// tier 2 runs first, its code sticks
	require.Equal(t, models.Halt, r.v.service(models.Success))

	r.timers.Result = models.ErrInternal
	r.ff.Set(models.FF_PDM_QUEUES | models.FF_TIMER)
	require.Equal(t, models.ErrInternal, r.v.service(models.Success))

	r.ff.Set(models.FF_PDM_QUEUES)
	require.Equal(t, models.RescheduleREM, r.v.service(models.RescheduleREM))
}

func TestServicePollsEveryFourthPass(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 8; i++ {
		r.v.service(models.Success)
	}
	require.Equal(t, 2, r.poller.Calls)
}

func TestServiceRunsHandlersOnce(t *testing.T) {
	r := newRig(t)
	r.dbg.PollHook = func() { r.ff.Set(models.FF_DBGF) }
	r.ff.Set(models.FF_DBGF | models.FF_TIMER)
	r.v.service(models.Success)
	require.Equal(t, 1, r.dbg.Polls)
	require.True(t, r.ff.IsSet(models.FF_DBGF), "re-raised flag waits for the next pass")

	r.v.service(models.Success)
	require.Equal(t, 2, r.dbg.Polls)
}

func TestServicePollOnceOnFourthPass(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 3; i++ {
		r.v.service(models.Success)
	}
	require.Zero(t, r.poller.Calls)
	r.ff.Set(models.FF_PDM_POLL)
	r.v.service(models.Success)
	require.Equal(t, 1, r.poller.Calls)
}

func TestInterruptGating(t *testing.T) {
	off := false
	for _, tc := range []struct {
		name  string
		setup func(r *rig)
	}{
		{"trap pending", func(r *rig) { r.traps.InjectTrap(0x0e, 0, models.TrapException) }},
		{"guest IF clear", func(r *rig) { r.g.ClearFlags(cpu.EFL_IF) }},
		{"virtual IF clear", func(r *rig) { r.patches.VirtIF = &off }},
		{"hw event latched", func(r *rig) { r.hw.Latched = true }},
		{"error pending", func(r *rig) { r.timers.Result = models.ErrInternal; r.ff.Set(models.FF_TIMER) }},
		{"shadow active", func(r *rig) { r.v.setInhibit(r.g.EIP) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			r.pic.Vectors = []uint8{0x20}
			tc.setup(r)
			injected := len(r.traps.Injected)
			r.ff.Set(models.FF_INTERRUPT_PIC)
			r.v.service(models.Success)
			require.Len(t, r.traps.Injected, injected)
			require.True(t, r.ff.IsSet(models.FF_INTERRUPT_PIC))
		})
	}
}

func TestInterruptShadow(t *testing.T) {
	r := newRig(t)
	r.v.setInhibit(r.g.EIP)
	require.Equal(t, models.RescheduleREM, r.v.service(models.Success))
	require.True(t, r.ff.IsSet(models.FF_INHIBIT_INTERRUPTS), "shadow lifted before the instruction ran")

	r.hw.IsActive = true
	require.Equal(t, models.RescheduleHwAcc, r.v.service(models.Success))

	r.hw.IsActive = false
	r.g.EIP += 2
	require.Equal(t, models.RescheduleREM, r.v.service(models.Success))
	require.False(t, r.ff.IsSet(models.FF_INHIBIT_INTERRUPTS))
}

func TestInterruptShadowRaw(t *testing.T) {
	r := newRig(t, rawMode)
	r.v.setInhibit(r.g.EIP)
	require.Equal(t, models.RescheduleRaw, r.v.service(models.Success))
}

func TestStaleInterruptFlag(t *testing.T) {
	r := newRig(t)
	r.ff.Set(models.FF_INTERRUPT_PIC)
	require.Equal(t, models.Success, r.v.service(models.Success))
	require.Empty(t, r.traps.Injected)
	require.False(t, r.ff.IsSet(models.FF_INTERRUPT_PIC))
}

func TestSoftPendingInterrupt(t *testing.T) {
	r := newRig(t)
	r.soft.Pending = true
	r.ff.Set(models.FF_TIMER)
	require.Equal(t, models.RescheduleREM, r.v.service(models.Success))
}

func TestDebugSuspend(t *testing.T) {
	r := newRig(t)
	r.ff.Set(models.FF_DEBUG_SUSPEND)
	require.Equal(t, models.Suspend, r.v.service(models.Success))
	require.False(t, r.ff.IsSet(models.FF_DEBUG_SUSPEND))
}

func TestResetClearsScheduler(t *testing.T) {
	r := newRig(t)
	r.v.forceRaw.Store(true)
	r.v.setInhibit(0x1234)
	r.traps.InjectTrap(0x20, cpu.NoErrorCode, models.TrapHardwareInt)
	r.reset.Result = models.Reset
	r.ff.Set(models.FF_RESET)
	require.Equal(t, models.Reset, r.v.service(models.Success))
	require.False(t, r.v.ForceRaw())
	require.False(t, r.traps.HasTrap())
	require.Zero(t, r.ff.Load())
}

func TestHighPriorityPost(t *testing.T) {
	r := newRig(t)
	r.ff.Set(models.HighPriorityPostMask)
	require.Equal(t, models.RawToR3, r.v.highPriorityPost(models.RawToR3))
	require.Equal(t, 1, r.scan.Actions)
	require.False(t, r.ff.Pending(models.HighPriorityPostMask))
}

func BenchmarkService(b *testing.B) {
	r := newRig(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ff.Set(models.FF_TIMER | models.FF_PDM_QUEUES)
		r.v.service(models.Success)
	}
}
