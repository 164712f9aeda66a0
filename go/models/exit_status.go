package models

import "fmt"

type ExitStatus int

func (e ExitStatus) Error() string {
	return fmt.Sprintf("exit %d", e)
}

// ExitFor maps the terminal status of a run to a process exit code.
func ExitFor(s Status) ExitStatus {
	switch s {
	case Off, Terminate:
		return 0
	case Suspend:
		return 3
	}
	if s.IsError() {
		return 2
	}
	return 1
}
