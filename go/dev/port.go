package dev

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type PortHandler interface {
	In(port uint16, size int) (uint32, error)
	Out(port uint16, size int, val uint32) error
}

type portRange struct {
	base, end uint32
	h         PortHandler
	name      string
}

// PortBus routes guest port io. Unclaimed reads float high and unclaimed writes are dropped.
type PortBus struct {
	mu     sync.RWMutex
	ranges []portRange
	log    zerolog.Logger
}

func NewPortBus(log zerolog.Logger) *PortBus {
	return &PortBus{log: log.With().Str("component", "ports").Logger()}
}

func (b *PortBus) Register(name string, base, n uint16, h PortHandler) error {
	if n == 0 || uint32(base)+uint32(n) > 0x10000 {
		return errors.Errorf("bad port range %#x+%d for %s", base, n, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	lo, hi := uint32(base), uint32(base)+uint32(n)
	for _, r := range b.ranges {
		if lo < r.end && r.base < hi {
			return errors.Errorf("ports %#x+%d for %s overlap %s", base, n, name, r.name)
		}
	}
	b.ranges = append(b.ranges, portRange{lo, hi, h, name})
	sort.Slice(b.ranges, func(i, j int) bool { return b.ranges[i].base < b.ranges[j].base })
	return nil
}

func (b *PortBus) find(port uint16) *portRange {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p := uint32(port)
	i := sort.Search(len(b.ranges), func(i int) bool { return b.ranges[i].end > p })
	if i < len(b.ranges) && b.ranges[i].base <= p {
		r := b.ranges[i]
		return &r
	}
	return nil
}

func checkSize(size int) error {
	switch size {
	case 1, 2, 4:
		return nil
	}
	return fmt.Errorf("bad port access size %d", size)
}

func (b *PortBus) In(port uint16, size int) (uint32, error) {
	if err := checkSize(size); err != nil {
		return 0, err
	}
	r := b.find(port)
	if r == nil {
		b.log.Debug().Uint16("port", port).Int("size", size).Msg("unclaimed in")
		return uint32(1<<(uint(size)*8) - 1), nil
	}
	val, err := r.h.In(port, size)
	return val, errors.Wrapf(err, "%s in %#x", r.name, port)
}

func (b *PortBus) Out(port uint16, size int, val uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	r := b.find(port)
	if r == nil {
		b.log.Debug().Uint16("port", port).Int("size", size).Uint32("val", val).Msg("unclaimed out")
		return nil
	}
	return errors.Wrapf(r.h.Out(port, size, val), "%s out %#x", r.name, port)
}
