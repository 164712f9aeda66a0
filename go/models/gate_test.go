package models

import (
	"testing"
	"time"
)

func TestExecLockInspectUnlocked(t *testing.T) {
	var g ExecLock
	ran := false
	g.Inspect(func() { ran = true })
	if !ran || g.Waiting() != 0 {
		t.Fatal("Inspect() did not run on a free lock")
	}
}

func TestExecLockYield(t *testing.T) {
	var g ExecLock
	g.Lock()
	// nobody waiting: no-op
	g.Yield()

	done := make(chan int)
	go func() {
		g.Inspect(func() {})
		done <- 1
	}()
	for g.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("Inspect() ran while the lock was held")
	case <-time.After(10 * time.Millisecond):
	}
	g.Yield()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Yield() did not let the inspector in")
	}
	if g.Waiting() != 0 {
		t.Fatal("inspector still counted after finishing")
	}
	g.Unlock()
}
