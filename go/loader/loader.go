// Package loader turns a guest image file into the segments to copy into guest memory.
package loader

import (
	"fmt"
)

type Segment struct {
	Addr uint64
	Data []byte
}

func (s Segment) String() string {
	return fmt.Sprintf("%#08x-%#08x", s.Addr, s.Addr+uint64(len(s.Data)))
}

type Loader interface {
	Format() string
	Entry() uint64
	Segments() ([]Segment, error)
	Symbolicate(addr uint64) (string, error)
}

type LoaderHeader struct {
	format string
	entry  uint64
}

func (l *LoaderHeader) Format() string { return l.format }
func (l *LoaderHeader) Entry() uint64  { return l.entry }

// Symbolicate finds nothing unless the format carries symbols.
func (l *LoaderHeader) Symbolicate(addr uint64) (string, error) { return "", nil }
