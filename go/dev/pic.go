// Package dev holds the few devices a bare guest needs: an interrupt controller, a port bus,
// a debug console and an exit port.
package dev

import (
	"math/bits"
	"sync"

	"github.com/lunixbochs/vmsched/go/models"
)

// Pic latches raised vectors until the scheduler acknowledges them. Lower vectors win.
type Pic struct {
	mu      sync.Mutex
	pending [4]uint64
	masked  [4]uint64
	ff      *models.ForcedActions
	flag    models.FF
}

// NewPic raises flag on ff whenever an unmasked vector is pending.
func NewPic(ff *models.ForcedActions, flag models.FF) *Pic {
	return &Pic{ff: ff, flag: flag}
}

func (p *Pic) Raise(vector uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[vector/64] |= 1 << (vector % 64)
	p.update()
}

func (p *Pic) Lower(vector uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[vector/64] &^= 1 << (vector % 64)
	p.update()
}

func (p *Pic) Mask(vector uint8, masked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if masked {
		p.masked[vector/64] |= 1 << (vector % 64)
	} else {
		p.masked[vector/64] &^= 1 << (vector % 64)
	}
	p.update()
}

// PendingInterrupt acknowledges the best pending vector.
func (p *Pic) PendingInterrupt() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.update()
	for i := range p.pending {
		if live := p.pending[i] &^ p.masked[i]; live != 0 {
			n := bits.TrailingZeros64(live)
			p.pending[i] &^= 1 << n
			return uint8(i*64 + n), true
		}
	}
	return 0, false
}

// update keeps the flag in line with the unmasked pending set. Called with mu held.
func (p *Pic) update() {
	for i := range p.pending {
		if p.pending[i]&^p.masked[i] != 0 {
			p.ff.Set(p.flag)
			return
		}
	}
	p.ff.Clear(p.flag)
}
