package models

// State is the execution state of a virtual cpu. Only the scheduler's outer loop assigns it.
type State int

const (
	StateUninitialized State = iota
	StateRaw
	StateHwAcc
	StateEmulated
	StateHalted
	StateSuspended
	StateTerminating
	StateDebugGuestRaw
	StateDebugGuestEmulated
	StateDebugHyper
	StateGuruMeditation
)

var stateNames = [...]string{
	"uninitialized",
	"raw",
	"hwacc",
	"emulated",
	"halted",
	"suspended",
	"terminating",
	"debug-guest-raw",
	"debug-guest-emulated",
	"debug-hyper",
	"guru-meditation",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Executing reports the states that run guest code.
func (s State) Executing() bool {
	return s == StateRaw || s == StateHwAcc || s == StateEmulated
}

func (s State) Debugging() bool {
	return s == StateDebugGuestRaw || s == StateDebugGuestEmulated || s == StateDebugHyper
}
