package models

// DebugEvent is what the scheduler reports to an attached debugger.
type DebugEvent int

const (
	EventStepped DebugEvent = iota
	EventSteppedHyper
	EventBreakpoint
	EventBreakpointHyper
	EventStop
	EventAssertionHyper
	EventFatal
)

var eventNames = [...]string{"stepped", "stepped-hyper", "breakpoint", "breakpoint-hyper", "stop", "assertion-hyper", "fatal"}

func (e DebugEvent) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "invalid"
	}
	return eventNames[e]
}
