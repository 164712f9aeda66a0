package dev

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/req"
)

const (
	ConsolePort = 0xe9
	ExitPort    = 0xf4
)

// Console is the port e9 debug console: every byte written goes straight to w.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

// In returns the port number so guests can probe for the console.
func (c *Console) In(port uint16, size int) (uint32, error) {
	return ConsolePort, nil
}

func (c *Console) Out(port uint16, size int, val uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.w.Write([]byte{byte(val)})
	return err
}

// Exit powers the vm off when the guest writes its exit code.
type Exit struct {
	q      *req.Queue
	code   int32
	exited int32
}

func NewExit(q *req.Queue) *Exit { return &Exit{q: q} }

func (e *Exit) In(port uint16, size int) (uint32, error) {
	return 0, nil
}

func (e *Exit) Out(port uint16, size int, val uint32) error {
	atomic.StoreInt32(&e.code, int32(val))
	if atomic.CompareAndSwapInt32(&e.exited, 0, 1) {
		e.q.CallNoWait(func() models.Status { return models.Off })
	}
	return nil
}

// Code is the guest's exit code and whether it wrote one.
func (e *Exit) Code() (int, bool) {
	return int(atomic.LoadInt32(&e.code)), atomic.LoadInt32(&e.exited) != 0
}
