package process

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessExited is returned when writing to the stdin of a process that has already exited.
	ErrProcessExited = errors.New("process has exited")
	// ErrStdinBacklog is returned when the stdin queue is full because the process isn't reading its input.
	ErrStdinBacklog = errors.New("stdin queue is full")
)

// SpawnError is returned when the executable can't be found or the OS refuses to create the process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawning %q: %s", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// IOError is returned when a write to the process's stdin fails.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// TerminationError is returned when the OS-level kill request fails.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminating process %d: %s", e.PID, e.Err)
}
func (e *TerminationError) Unwrap() error { return e.Err }
