package models

import (
	"fmt"

	"github.com/lunixbochs/vmsched/go/models/cpu"
)

type TrapKind int

const (
	TrapHardwareInt TrapKind = iota
	TrapSoftwareInt
	TrapException
)

func (k TrapKind) String() string {
	switch k {
	case TrapHardwareInt:
		return "hw"
	case TrapSoftwareInt:
		return "soft"
	case TrapException:
		return "xcpt"
	}
	return "invalid"
}

// Trap is the event the trap manager has queued for the guest.
type Trap struct {
	Vector  uint8
	Kind    TrapKind
	ErrCode uint32
	CR2     uint32
}

func (t Trap) HasErrCode() bool { return t.ErrCode != cpu.NoErrorCode }

func (t Trap) String() string {
	s := fmt.Sprintf("%s %#02x", t.Kind, t.Vector)
	if t.HasErrCode() {
		s += fmt.Sprintf(" err=%#x", t.ErrCode)
	}
	if t.Vector == cpu.XCPT_PF {
		s += fmt.Sprintf(" cr2=%#08x", t.CR2)
	}
	return s
}

type PatchFlags uint32

const (
	PatchCode32 PatchFlags = 1 << iota
	PatchMMIO
)
