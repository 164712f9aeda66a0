package models

// Op is the small subset of x86 opcodes the scheduler needs to tell apart.
type Op int

const (
	OpOther Op = iota
	OpCLI
	OpSTI
	OpHLT
	OpMovCR
	OpMovDR
	OpIN
	OpOUT
	OpINS
	OpOUTS
	OpMONITOR
	OpMWAIT
	OpSYSENTER
	OpSYSEXIT
	OpSYSCALL
	OpSYSRET
	OpIRET
	OpMOV
	OpAND
	OpOR
	OpXOR
	OpPOP
	OpINC
	OpDEC
	OpXCHG
)

var opNames = [...]string{
	"other", "cli", "sti", "hlt", "mov cr", "mov dr", "in", "out", "ins", "outs",
	"monitor", "mwait", "sysenter", "sysexit", "syscall", "sysret", "iret",
	"mov", "and", "or", "xor", "pop", "inc", "dec", "xchg",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "invalid"
	}
	return opNames[o]
}

// Instr is one decoded guest instruction.
type Instr struct {
	Op  Op
	Len uint32
	Rep bool
	// CRWrite is set for mov crN, reg.
	CRWrite bool
	Text    string
	// Raw holds the decoder's own representation for the interpreter that pairs with it.
	Raw interface{}
}

func (i Instr) PortIO() bool {
	switch i.Op {
	case OpIN, OpOUT, OpINS, OpOUTS:
		return true
	}
	return false
}

func (i Instr) String() string {
	if i.Text != "" {
		return i.Text
	}
	return i.Op.String()
}
