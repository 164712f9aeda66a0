package models

import (
	"fmt"
)

// Abort is the value collaborators panic with when they detect unrecoverable corruption.
// The scheduler recovers it at the top of Run and enters guru meditation.
type Abort struct {
	Status Status
	Reason string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("fatal abort (%s): %s", a.Status, a.Reason)
}

// Fatal never returns.
func Fatal(status Status, format string, a ...interface{}) {
	panic(&Abort{Status: status, Reason: fmt.Sprintf(format, a...)})
}

// FatalError is returned from Run after guru meditation.
type FatalError struct {
	Status Status
	Reason string
	Dump   string
}

func (e *FatalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("guru meditation %s: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("guru meditation %s", e.Status)
}
