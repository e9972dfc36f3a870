package gateway

import (
	"github.com/guseggert/procrelay/agent/process"
	"github.com/guseggert/procrelay/agent/supervisor"
)

type RequestType string

const (
	RequestStart RequestType = "start"
	RequestStop  RequestType = "stop"
	RequestInput RequestType = "input"
)

// Request is a command sent by a controller. An empty Slot addresses the default slot.
type Request struct {
	Type RequestType `json:"type"`
	Slot string      `json:"slot,omitempty"`
	Text string      `json:"text,omitempty"`
}

type MessageType string

const (
	MessageStatus MessageType = "status"
	MessageOutput MessageType = "output"
	MessageError  MessageType = "error"
	MessageExited MessageType = "exited"
)

// ErrorKindRequest marks an error caused by a malformed or misaddressed request.
// Those errors are only sent to the connection that made the request.
const ErrorKindRequest = "request"

// Message is sent to controllers.
// Only the fields relevant to Type are set.
type Message struct {
	Type MessageType `json:"type"`
	Slot string      `json:"slot,omitempty"`
	// Seq increases monotonically per slot. Text too long for one frame is sent as several messages with the same
	// Seq and increasing Part, so (Seq, Part) is unique per slot.
	Seq  uint64      `json:"seq,omitempty"`
	Part int         `json:"part,omitempty"`

	// status
	Running *bool  `json:"running,omitempty"`
	State   string `json:"state,omitempty"`
	Tag     string `json:"tag,omitempty"`

	// output and error
	Stream string `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`
	Kind   string `json:"kind,omitempty"`

	// exited
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Killed   bool   `json:"killed,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// StatusMessage describes the current state of a slot.
func StatusMessage(st supervisor.Status) Message {
	return Message{
		Type:    MessageStatus,
		Slot:    st.Slot,
		Running: boolPtr(st.Running),
		State:   st.State.String(),
	}
}

func requestErrorMessage(slot, text string) Message {
	return Message{Type: MessageError, Slot: slot, Kind: ErrorKindRequest, Text: text}
}

// MessageFromEvent converts a supervisor event to its wire form.
func MessageFromEvent(ev process.Event) Message {
	m := Message{Slot: ev.Slot, Seq: ev.Seq}
	switch ev.Kind {
	case process.KindStdout, process.KindInput:
		m.Type = MessageOutput
		m.Stream = ev.Kind.String()
		m.Text = ev.Text
	case process.KindStderr:
		m.Type = MessageError
		m.Stream = ev.Kind.String()
		m.Text = ev.Text
	case process.KindError:
		m.Type = MessageError
		m.Kind = string(ev.ErrorKind)
		m.Text = ev.Text
	case process.KindLifecycle:
		m.Type = MessageStatus
		m.Running = boolPtr(true)
		m.Tag = ev.Tag
		switch ev.Tag {
		case process.LifecycleStarted:
			m.State = supervisor.Running.String()
		case process.LifecycleStoppedByController:
			m.State = supervisor.Terminating.String()
		}
	case process.KindTerminated:
		m.Type = MessageExited
		if ev.Exit != nil {
			code := ev.Exit.Code
			m.ExitCode = &code
			m.Signal = ev.Exit.Signal
			m.Killed = ev.Exit.Killed
		}
	}
	return m
}
