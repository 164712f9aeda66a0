package loader

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

// LoadFile picks a loader by file magic. Anything that isn't an elf is a flat image loaded at
// addr, entered at entry or at addr when entry is zero.
func LoadFile(path string, addr, entry uint64) (Loader, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading guest image")
	}
	return Load(p, addr, entry)
}

func Load(p []byte, addr, entry uint64) (Loader, error) {
	r := bytes.NewReader(p)
	if MatchElf(r) {
		return NewElfLoader(r)
	}
	if len(p) == 0 {
		return nil, errors.New("empty guest image")
	}
	if entry == 0 {
		entry = addr
	}
	return NewFlatLoader(r, int64(len(p)), addr, entry), nil
}
