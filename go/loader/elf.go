package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

type ElfLoader struct {
	LoaderHeader
	file *elf.File
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r), elfMagic)
}

// NewElfLoader accepts 32-bit x86 executables. Segments load at their physical addresses.
func NewElfLoader(r io.ReaderAt) (Loader, error) {
	file, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "elf.NewFile() failed")
	}
	if file.Class != elf.ELFCLASS32 || file.Machine != elf.EM_386 {
		return nil, errors.Errorf("unsupported elf: %s %s", file.Class, file.Machine)
	}
	if file.Type != elf.ET_EXEC {
		return nil, errors.Errorf("unsupported elf type: %s", file.Type)
	}
	// the guest starts without paging, so a higher half entry point becomes physical
	entry := file.Entry
	for _, prog := range file.Progs {
		if prog.Type == elf.PT_LOAD && entry >= prog.Vaddr && entry < prog.Vaddr+prog.Memsz {
			entry = entry - prog.Vaddr + prog.Paddr
			break
		}
	}
	return &ElfLoader{
		LoaderHeader: LoaderHeader{format: "elf", entry: entry},
		file:         file,
	}, nil
}

func (e *ElfLoader) Segments() ([]Segment, error) {
	ret := make([]Segment, 0, len(e.file.Progs))
	for _, prog := range e.file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, errors.Errorf("segment at %#x has more file data than memory", prog.Paddr)
		}
		data := make([]byte, prog.Memsz)
		if _, err := io.ReadFull(prog.Open(), data[:prog.Filesz]); err != nil {
			return nil, errors.Wrapf(err, "reading segment at %#x", prog.Paddr)
		}
		ret = append(ret, Segment{
			Addr: prog.Paddr,
			Data: data,
		})
	}
	return ret, nil
}

func (e *ElfLoader) Symbolicate(addr uint64) (string, error) {
	syms, err := e.file.Symbols()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return "", nil
		}
		return "", err
	}
	var best *elf.Symbol
	for i, sym := range syms {
		if sym.Value > addr || addr >= sym.Value+sym.Size && addr != sym.Value {
			continue
		}
		if best == nil || sym.Value > best.Value {
			best = &syms[i]
		}
	}
	if best == nil {
		return "", nil
	}
	if off := addr - best.Value; off > 0 {
		return fmt.Sprintf("%s+%#x", best.Name, off), nil
	}
	return best.Name, nil
}
