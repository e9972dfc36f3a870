package main

import (
	"bytes"
	"testing"

	"github.com/guseggert/procrelay/agent/gateway"
	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func TestPrintMessage(t *testing.T) {
	cases := []struct {
		name       string
		msg        gateway.Message
		prefixSlot bool
		expOut     string
		expErr     string
	}{
		{
			name:   "stdout",
			msg:    gateway.Message{Type: gateway.MessageOutput, Slot: "main", Stream: "stdout", Text: "hello\n"},
			expOut: "hello\n",
		},
		{
			name:   "stdin echo",
			msg:    gateway.Message{Type: gateway.MessageOutput, Slot: "main", Stream: "stdin", Text: "ping"},
			expOut: ">>> ping\n",
		},
		{
			name:   "stderr",
			msg:    gateway.Message{Type: gateway.MessageError, Slot: "main", Stream: "stderr", Text: "oops\n"},
			expErr: "oops\n",
		},
		{
			name:   "spawn error",
			msg:    gateway.Message{Type: gateway.MessageError, Slot: "main", Kind: "spawn", Text: "no such file"},
			expErr: "error (spawn): no such file\n",
		},
		{
			name:       "status with slot prefix",
			msg:        gateway.Message{Type: gateway.MessageStatus, Slot: "main", State: "Running", Tag: "started"},
			prefixSlot: true,
			expErr:     "[main] status: Running (started)\n",
		},
		{
			name:   "exited",
			msg:    gateway.Message{Type: gateway.MessageExited, Slot: "main", ExitCode: intPtr(3)},
			expOut: "Process exited with code 3\n",
		},
		{
			name:   "killed",
			msg:    gateway.Message{Type: gateway.MessageExited, Slot: "main", ExitCode: intPtr(-1), Signal: "SIGKILL", Killed: true},
			expOut: "Process exited with code -1\n",
			expErr: "killed by SIGKILL\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			printMessage(&out, &errOut, c.msg, c.prefixSlot)
			assert.Equal(t, c.expOut, out.String())
			assert.Equal(t, c.expErr, errOut.String())
		})
	}
}
