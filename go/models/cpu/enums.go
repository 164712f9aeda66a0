package cpu

// EFLAGS bits
const (
	EFL_CF   = 1 << 0
	EFL_PF   = 1 << 2
	EFL_ZF   = 1 << 6
	EFL_SF   = 1 << 7
	EFL_TF   = 1 << 8
	EFL_IF   = 1 << 9
	EFL_DF   = 1 << 10
	EFL_OF   = 1 << 11
	EFL_IOPL = 3 << 12
	EFL_NT   = 1 << 14
	EFL_RF   = 1 << 16
	EFL_VM   = 1 << 17

	// bit 1 always reads as set
	EFL_RA1 = 1 << 1

	eflIOPLShift = 12
)

// control register bits
const (
	CR0_PE = 1 << 0
	CR0_MP = 1 << 1
	CR0_EM = 1 << 2
	CR0_TS = 1 << 3
	CR0_ET = 1 << 4
	CR0_NE = 1 << 5
	CR0_WP = 1 << 16
	CR0_AM = 1 << 18
	CR0_NW = 1 << 29
	CR0_CD = 1 << 30
	CR0_PG = 1 << 31

	CR4_VME = 1 << 0
	CR4_PSE = 1 << 4
	CR4_PAE = 1 << 5
	CR4_PGE = 1 << 7

	EFER_LME = 1 << 8
	EFER_LMA = 1 << 10
)

// selector requested privilege level
const SEL_RPL = 3

// exception vectors the scheduler inspects
const (
	XCPT_DB = 1
	XCPT_BP = 3
	XCPT_UD = 6
	XCPT_GP = 13
	XCPT_PF = 14
)

// NoErrorCode marks a trap without an error code.
const NoErrorCode = ^uint32(0)
