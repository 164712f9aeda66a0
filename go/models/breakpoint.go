package models

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var breakRe = regexp.MustCompile(`^\*?(0x[0-9a-fA-F]+|\d+)$`)

// Breakpoint stops guest execution at a flat address.
type Breakpoint struct {
	Addr uint32
	hits uint64
}

func (b *Breakpoint) Hits() uint64 { return atomic.LoadUint64(&b.hits) }

func (b *Breakpoint) String() string {
	return fmt.Sprintf("0x%08x (%d hits)", b.Addr, b.Hits())
}

var BreakpointParseErr = fmt.Errorf("breakpoint parse failed")

// ParseBreakpoint accepts 0xADDR, *0xADDR or a decimal address.
func ParseBreakpoint(desc string) (*Breakpoint, error) {
	r := breakRe.FindStringSubmatch(desc)
	if len(r) == 0 {
		return nil, errors.WithStack(BreakpointParseErr)
	}
	addr, err := strconv.ParseUint(r[1], 0, 32)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse int")
	}
	return &Breakpoint{Addr: uint32(addr)}, nil
}

// Breakpoints is shared between the debugger console and the engine that reports hits.
type Breakpoints struct {
	sync.RWMutex
	bps map[uint32]*Breakpoint
}

func (b *Breakpoints) Add(desc string) (*Breakpoint, error) {
	bp, err := ParseBreakpoint(desc)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.bps == nil {
		b.bps = make(map[uint32]*Breakpoint)
	}
	if old, ok := b.bps[bp.Addr]; ok {
		return old, nil
	}
	b.bps[bp.Addr] = bp
	return bp, nil
}

func (b *Breakpoints) Remove(addr uint32) bool {
	b.Lock()
	defer b.Unlock()
	_, ok := b.bps[addr]
	delete(b.bps, addr)
	return ok
}

// Hit counts and reports a breakpoint at addr.
func (b *Breakpoints) Hit(addr uint32) bool {
	b.RLock()
	bp, ok := b.bps[addr]
	b.RUnlock()
	if ok {
		atomic.AddUint64(&bp.hits, 1)
	}
	return ok
}

func (b *Breakpoints) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.bps)
}

func (b *Breakpoints) List() []*Breakpoint {
	b.RLock()
	ret := make([]*Breakpoint, 0, len(b.bps))
	for _, bp := range b.bps {
		ret = append(ret, bp)
	}
	b.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].Addr < ret[j].Addr })
	return ret
}
