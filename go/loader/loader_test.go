package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/lunixbochs/struc"
	"github.com/stretchr/testify/require"
)

type elfHeader struct {
	Ident                                                [16]byte
	Type, Machine                                        uint16
	Version, Entry, Phoff, Shoff, Flags                  uint32
	Ehsize, Phentsize, Phnum, Shentsize, Shnum, Shstrndx uint16
}

type progHeader struct {
	Type, Off, Vaddr, Paddr, Filesz, Memsz, Flags, Align uint32
}

// buildElf makes a one segment i386 executable loading code at paddr with bss bytes of zeroes after it.
func buildElf(t *testing.T, machine elf.Machine, paddr uint32, code []byte, bss uint32) []byte {
	var buf bytes.Buffer
	opts := &struc.Options{Order: binary.LittleEndian}
	hdr := elfHeader{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   1,
		Entry:     paddr + 0xc0000000,
		Phoff:     52,
		Ehsize:    52,
		Phentsize: 32,
		Phnum:     1,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	prog := progHeader{
		Type:   uint32(elf.PT_LOAD),
		Off:    84,
		Vaddr:  paddr + 0xc0000000,
		Paddr:  paddr,
		Filesz: uint32(len(code)),
		Memsz:  uint32(len(code)) + bss,
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Align:  0x1000,
	}
	require.NoError(t, struc.PackWithOptions(&buf, &hdr, opts))
	require.NoError(t, struc.PackWithOptions(&buf, &prog, opts))
	require.Equal(t, 84, buf.Len())
	buf.Write(code)
	return buf.Bytes()
}

func TestElfLoad(t *testing.T) {
	code := []byte{0xfa, 0xf4}
	l, err := Load(buildElf(t, elf.EM_386, 0x100000, code, 6), 0, 0)
	require.NoError(t, err)
	require.Equal(t, "elf", l.Format())
	require.Equal(t, uint64(0x100000), l.Entry(), "entry is translated to its physical address")

	segs, err := l.Segments()
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, uint64(0x100000), segs[0].Addr, "segments load at their physical address")
	require.Equal(t, []byte{0xfa, 0xf4, 0, 0, 0, 0, 0, 0}, segs[0].Data)

	name, err := l.Symbolicate(0x100000)
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestElfRejectsOtherMachines(t *testing.T) {
	_, err := Load(buildElf(t, elf.EM_ARM, 0x1000, []byte{0}, 0), 0, 0)
	require.Error(t, err)
}

func TestFlatLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guest.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x90, 0xf4}, 0644))

	l, err := LoadFile(path, 0x7c00, 0)
	require.NoError(t, err)
	require.Equal(t, "flat", l.Format())
	require.Equal(t, uint64(0x7c00), l.Entry())
	segs, err := l.Segments()
	require.NoError(t, err)
	require.Equal(t, []Segment{{Addr: 0x7c00, Data: []byte{0x90, 0xf4}}}, segs)

	l, err = LoadFile(path, 0x7c00, 0x7c01)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7c01), l.Entry())

	_, err = Load(nil, 0, 0)
	require.Error(t, err)
	_, err = LoadFile(filepath.Join(dir, "missing"), 0, 0)
	require.Error(t, err)
}
