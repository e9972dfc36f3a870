package process

import (
	"fmt"
	"time"
)

// Kind tags the variant of an Event.
type Kind int

const (
	KindStdout Kind = iota
	KindStderr
	// KindInput echoes text that was written to stdin.
	KindInput
	KindLifecycle
	KindTerminated
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	case KindInput:
		return "stdin"
	case KindLifecycle:
		return "lifecycle"
	case KindTerminated:
		return "terminated"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Lifecycle tags carried by KindLifecycle events.
const (
	LifecycleStarted             = "started"
	LifecycleStoppedByController = "stopped-by-controller"
)

// ErrorKind classifies a KindError event.
type ErrorKind string

const (
	ErrorKindSpawn       ErrorKind = "spawn"
	ErrorKindIO          ErrorKind = "io"
	ErrorKindTermination ErrorKind = "termination"
)

// Event is a single output, lifecycle or error notification for a slot.
// Only the fields relevant to Kind are set.
type Event struct {
	Slot string
	// Seq is assigned by the supervisor and increases monotonically per slot.
	Seq  uint64
	Time time.Time
	Kind Kind

	// Text is the raw chunk for stdout/stderr/input events and the message for error events.
	Text string
	// Tag is set for lifecycle events.
	Tag string
	// ErrorKind is set for error events.
	ErrorKind ErrorKind
	// Exit is set for terminated events.
	Exit *ExitStatus
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 if the process was ended by a signal or could not be waited on.
	Code int
	// Signal is the name of the signal that ended the process, if any.
	Signal string
	// Killed is true if termination was requested through Terminate or Kill.
	Killed bool
	// Err is set when waiting on the process failed for reasons other than a non-zero exit.
	Err string
}

// Forced reports whether the process did not exit on its own terms.
func (s ExitStatus) Forced() bool {
	return s.Signal != "" || s.Killed
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("killed by signal %s", s.Signal)
	}
	return fmt.Sprintf("exited with code %d", s.Code)
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
