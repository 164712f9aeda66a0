package loader

import (
	"io"

	"github.com/pkg/errors"
)

// FlatLoader loads a raw binary image at a fixed address.
type FlatLoader struct {
	LoaderHeader
	r    io.ReaderAt
	size int64
	addr uint64
}

func NewFlatLoader(r io.ReaderAt, size int64, addr, entry uint64) Loader {
	return &FlatLoader{
		LoaderHeader: LoaderHeader{format: "flat", entry: entry},
		r:            r,
		size:         size,
		addr:         addr,
	}
}

func (f *FlatLoader) Segments() ([]Segment, error) {
	data := make([]byte, f.size)
	if _, err := f.r.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "reading flat image")
	}
	return []Segment{{Addr: f.addr, Data: data}}, nil
}
