package tm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunixbochs/vmsched/go/models"
)

// Callback runs on the vcpu goroutine when its timer expires.
type Callback func() models.Status

type Timer struct {
	at     time.Duration
	period time.Duration
	fn     Callback
	index  int
}

// Armed reports whether the timer is still queued.
func (t *Timer) Armed() bool { return t.index >= 0 }

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at < h[j].at }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	t.index = -1
	return t
}

// Timers is the virtual timer queue. A host timer raises the timer flag once the earliest deadline
// is due; the scheduler's dispatcher then calls FlushPending.
type Timers struct {
	mu    sync.Mutex
	clock *Clock
	ff    *models.ForcedActions
	queue timerHeap
	host  *time.Timer
	log   zerolog.Logger
}

func NewTimers(clock *Clock, ff *models.ForcedActions, log zerolog.Logger) *Timers {
	t := &Timers{clock: clock, ff: ff, log: log.With().Str("component", "tm").Logger()}
	clock.Watch(func(bool) {
		t.mu.Lock()
		t.rearm()
		t.mu.Unlock()
	})
	return t
}

// Arm fires fn once at virtual time at.
func (t *Timers) Arm(at time.Duration, fn Callback) *Timer {
	tm := &Timer{at: at, fn: fn, index: -1}
	t.mu.Lock()
	heap.Push(&t.queue, tm)
	t.rearm()
	t.mu.Unlock()
	return tm
}

// ArmPeriodic fires fn every period, starting one period from now.
func (t *Timers) ArmPeriodic(period time.Duration, fn Callback) *Timer {
	tm := &Timer{at: t.clock.Now() + period, period: period, fn: fn, index: -1}
	t.mu.Lock()
	heap.Push(&t.queue, tm)
	t.rearm()
	t.mu.Unlock()
	return tm
}

func (t *Timers) Stop(tm *Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm.index < 0 {
		return false
	}
	heap.Remove(&t.queue, tm.index)
	tm.period = 0
	t.rearm()
	return true
}

// FlushPending runs every expired callback in deadline order.
func (t *Timers) FlushPending() models.Status {
	rc := models.Success
	now := t.clock.Now()
	for {
		t.mu.Lock()
		if len(t.queue) == 0 || t.queue[0].at > now {
			t.rearm()
			t.mu.Unlock()
			return rc
		}
		tm := t.queue[0]
		if tm.period > 0 {
			// a periodic timer that fell far behind skips the ticks it missed
			tm.at += tm.period
			if tm.at <= now {
				tm.at = now + tm.period
			}
			heap.Fix(&t.queue, 0)
		} else {
			heap.Pop(&t.queue)
		}
		t.mu.Unlock()

		rc = rc.Merge(tm.fn())
	}
}

// Next is the earliest deadline, if any.
func (t *Timers) Next() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return 0, false
	}
	return t.queue[0].at, true
}

// rearm points the host timer at the earliest deadline. Nothing is armed while the clock is paused;
// the clock rearms on resume. Called with mu held.
func (t *Timers) rearm() {
	if t.host != nil {
		t.host.Stop()
		t.host = nil
	}
	if len(t.queue) == 0 || !t.clock.Running() {
		return
	}
	d := t.queue[0].at - t.clock.Now()
	if d < 0 {
		d = 0
	}
	t.log.Trace().Dur("in", d).Msg("rearm")
	t.host = time.AfterFunc(d, func() { t.ff.Set(models.FF_TIMER) })
}

// armed reports whether a host timer is pending.
func (t *Timers) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.host != nil
}

// Close stops the host timer. Queued timers are dropped.
func (t *Timers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host != nil {
		t.host.Stop()
		t.host = nil
	}
	for _, tm := range t.queue {
		tm.index = -1
	}
	t.queue = nil
}
