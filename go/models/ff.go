package models

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FF is one forced-action flag.
type FF uint64

const (
	FF_INTERRUPT_APIC FF = 1 << iota
	FF_INTERRUPT_PIC
	FF_TIMER
	FF_PDM_QUEUES
	FF_PDM_DMA
	FF_PDM_CRITSECT
	FF_PDM_POLL
	FF_DBGF
	FF_REQUEST
	FF_TERMINATE
	FF_OFF
	FF_RESET
	FF_PGM_SYNC_CR3
	FF_PGM_SYNC_CR3_NON_GLOBAL
	FF_PGM_NEED_HANDY_PAGES
	FF_TRPM_SYNC_IDT
	FF_SELM_SYNC_TSS
	FF_SELM_SYNC_GDT
	FF_SELM_SYNC_LDT
	FF_INHIBIT_INTERRUPTS
	FF_CSAM_SCAN_PAGE
	FF_CSAM_PENDING_ACTION
	FF_REM_HANDLER_NOTIFY
	FF_DEBUG_SUSPEND

	ffLast
)

var ffNames = []string{
	"INTERRUPT_APIC", "INTERRUPT_PIC", "TIMER", "PDM_QUEUES", "PDM_DMA", "PDM_CRITSECT", "PDM_POLL",
	"DBGF", "REQUEST", "TERMINATE", "OFF", "RESET",
	"PGM_SYNC_CR3", "PGM_SYNC_CR3_NON_GLOBAL", "PGM_NEED_HANDY_PAGES",
	"TRPM_SYNC_IDT", "SELM_SYNC_TSS", "SELM_SYNC_GDT", "SELM_SYNC_LDT",
	"INHIBIT_INTERRUPTS", "CSAM_SCAN_PAGE", "CSAM_PENDING_ACTION", "REM_HANDLER_NOTIFY", "DEBUG_SUSPEND",
}

// tier masks
const (
	HighPriorityPostMask   = FF_PDM_CRITSECT | FF_CSAM_PENDING_ACTION
	NormalPriorityPostMask = FF_TERMINATE | FF_OFF | FF_DBGF | FF_RESET | FF_CSAM_SCAN_PAGE
	NormalPriorityMask     = FF_REQUEST | FF_PDM_QUEUES | FF_PDM_DMA | FF_PDM_POLL | FF_REM_HANDLER_NOTIFY

	HighPriorityPreRawMask = FF_PGM_SYNC_CR3 | FF_PGM_SYNC_CR3_NON_GLOBAL | FF_SELM_SYNC_TSS |
		FF_TRPM_SYNC_IDT | FF_SELM_SYNC_GDT | FF_SELM_SYNC_LDT | FF_PGM_NEED_HANDY_PAGES
	HighPriorityPreMask = FF_TIMER | FF_INTERRUPT_APIC | FF_INTERRUPT_PIC | FF_INHIBIT_INTERRUPTS |
		FF_DBGF | FF_TERMINATE | FF_OFF | FF_DEBUG_SUSPEND | HighPriorityPreRawMask

	// flags the hardware engine keeps in sync itself
	DescriptorSyncMask = FF_SELM_SYNC_GDT | FF_SELM_SYNC_LDT | FF_TRPM_SYNC_IDT | FF_SELM_SYNC_TSS

	AllMask          = ffLast - 1
	AllButRawMask    = AllMask &^ (HighPriorityPreRawMask | HighPriorityPostMask)
	ExternalHaltMask = FF_TERMINATE | FF_OFF | FF_DBGF | FF_RESET | FF_REQUEST | FF_TIMER |
		FF_PDM_QUEUES | FF_PDM_DMA | FF_DEBUG_SUSPEND
	InterruptMask    = FF_INTERRUPT_APIC | FF_INTERRUPT_PIC
)

func (f FF) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for i, name := range ffNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// ForcedActions is the set of pending asynchronous work for one virtual machine.
// Any goroutine may Set flags; only the scheduler's dispatcher clears them.
type ForcedActions struct {
	mask uint64

	mu   sync.Mutex
	wake chan struct{}
}

func (f *ForcedActions) Pending(mask FF) bool {
	return FF(atomic.LoadUint64(&f.mask))&mask != 0
}

func (f *ForcedActions) IsSet(flag FF) bool {
	return FF(atomic.LoadUint64(&f.mask))&flag == flag
}

func (f *ForcedActions) Load() FF {
	return FF(atomic.LoadUint64(&f.mask))
}

func (f *ForcedActions) Set(mask FF) {
	for {
		old := atomic.LoadUint64(&f.mask)
		if atomic.CompareAndSwapUint64(&f.mask, old, old|uint64(mask)) {
			break
		}
	}
	f.notify()
}

func (f *ForcedActions) Clear(mask FF) {
	for {
		old := atomic.LoadUint64(&f.mask)
		if atomic.CompareAndSwapUint64(&f.mask, old, old&^uint64(mask)) {
			return
		}
	}
}

// TestAndClear clears flag and reports whether it was set.
func (f *ForcedActions) TestAndClear(flag FF) bool {
	for {
		old := atomic.LoadUint64(&f.mask)
		if old&uint64(flag) == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(&f.mask, old, old&^uint64(flag)) {
			return true
		}
	}
}

func (f *ForcedActions) notify() {
	f.mu.Lock()
	if f.wake != nil {
		close(f.wake)
		f.wake = nil
	}
	f.mu.Unlock()
}

// Wait blocks until a flag in mask is pending, ctx is done, or timeout passes (zero means no bound).
// It returns true if a masked flag is pending.
func (f *ForcedActions) Wait(ctx context.Context, mask FF, timeout time.Duration) bool {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		f.mu.Lock()
		if f.wake == nil {
			f.wake = make(chan struct{})
		}
		wake := f.wake
		f.mu.Unlock()
		// check after registering so a Set between the check and the select can't be missed
		if f.Pending(mask) {
			return true
		}
		select {
		case <-wake:
		case <-timer:
			return f.Pending(mask)
		case <-ctx.Done():
			return f.Pending(mask)
		}
	}
}
