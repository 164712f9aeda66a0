// Package req queues work from other goroutines for execution on the vcpu goroutine.
package req

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lunixbochs/vmsched/go/models"
)

// Func runs on the vcpu goroutine with the guest parked. Scheduling codes it returns are handed
// to the scheduler, anything else only goes back to the caller.
type Func func() models.Status

type Request struct {
	fn     Func
	done   chan struct{}
	status models.Status
}

// Wait blocks until the request ran or ctx is done.
func (r *Request) Wait(ctx context.Context) (models.Status, error) {
	select {
	case <-r.done:
		return r.status, nil
	case <-ctx.Done():
		return models.Success, errors.WithStack(ctx.Err())
	}
}

func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Status is only meaningful once Done reports true.
func (r *Request) Status() models.Status {
	if !r.Done() {
		return models.Success
	}
	return r.status
}

// Queue implements the scheduler's request processor.
type Queue struct {
	mu      sync.Mutex
	pending []*Request
	ff      *models.ForcedActions
	log     zerolog.Logger
}

func NewQueue(ff *models.ForcedActions, log zerolog.Logger) *Queue {
	return &Queue{ff: ff, log: log.With().Str("component", "req").Logger()}
}

// CallNoWait queues fn and returns immediately. Poll the result with Done and Status.
func (q *Queue) CallNoWait(fn Func) *Request {
	r := &Request{fn: fn, done: make(chan struct{})}
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
	q.ff.Set(models.FF_REQUEST)
	return r
}

// Call queues fn and waits for it. A request abandoned through ctx still runs.
func (q *Queue) Call(ctx context.Context, fn Func) (models.Status, error) {
	return q.CallNoWait(fn).Wait(ctx)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	r := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return r
}

// Process runs queued requests in order until the queue is empty. Power-off and terminate stop it
// early; whatever is left stays queued with the flag raised.
func (q *Queue) Process() models.Status {
	rc := models.Success
	for {
		r := q.pop()
		if r == nil {
			return rc
		}
		r.status = r.fn()
		close(r.done)
		q.log.Trace().Stringer("rc", r.status).Msg("request done")
		if !r.status.IsScheduling() {
			continue
		}
		if r.status.IsTerminal() {
			if q.Len() > 0 {
				q.ff.Set(models.FF_REQUEST)
			}
			return r.status
		}
		rc = rc.Merge(r.status)
	}
}
