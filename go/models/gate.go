package models

import (
	"sync"
	"sync/atomic"
)

type waiter struct {
	sync.Mutex
	cb []chan int
}

func (w *waiter) Add() chan int {
	w.Lock()
	ret := make(chan int)
	w.cb = append(w.cb, ret)
	w.Unlock()
	return ret
}

func (w *waiter) Notify() {
	w.Lock()
	for _, c := range w.cb {
		c <- 1
	}
	if w.cb != nil {
		w.cb = w.cb[:0]
	}
	w.Unlock()
}

// ExecLock serializes the scheduler's state transitions and forced-action servicing against outside
// inspection. The vcpu thread holds it except while an engine burst runs; Yield lets queued
// inspectors in between loop iterations.
type ExecLock struct {
	sync.Mutex
	pending int32
	drained waiter
}

// Inspect runs fn while the vcpu thread is parked outside guest code.
func (g *ExecLock) Inspect(fn func()) {
	atomic.AddInt32(&g.pending, 1)
	g.Lock()
	defer g.Unlock()
	defer func() {
		if atomic.AddInt32(&g.pending, -1) == 0 {
			g.drained.Notify()
		}
	}()
	fn()
}

// Yield must be called with the lock held. It returns immediately unless someone is waiting in Inspect,
// in which case it hands them the lock and takes it back after they drain.
func (g *ExecLock) Yield() {
	if atomic.LoadInt32(&g.pending) == 0 {
		return
	}
	block := g.drained.Add()
	g.Unlock()
	<-block
	g.Lock()
}

// Waiting reports how many inspectors are queued.
func (g *ExecLock) Waiting() int {
	return int(atomic.LoadInt32(&g.pending))
}
