package gateway

import (
	"encoding/json"
	"testing"

	"github.com/guseggert/procrelay/agent/process"
	"github.com/guseggert/procrelay/agent/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFromEvent(t *testing.T) {
	cases := []struct {
		name    string
		ev      process.Event
		expJSON string
	}{
		{
			name:    "stdout",
			ev:      process.Event{Slot: "main", Seq: 1, Kind: process.KindStdout, Text: "hi\n"},
			expJSON: `{"type":"output","slot":"main","seq":1,"stream":"stdout","text":"hi\n"}`,
		},
		{
			name:    "stdin echo",
			ev:      process.Event{Slot: "main", Seq: 2, Kind: process.KindInput, Text: "ping"},
			expJSON: `{"type":"output","slot":"main","seq":2,"stream":"stdin","text":"ping"}`,
		},
		{
			name:    "stderr",
			ev:      process.Event{Slot: "main", Seq: 3, Kind: process.KindStderr, Text: "oops"},
			expJSON: `{"type":"error","slot":"main","seq":3,"stream":"stderr","text":"oops"}`,
		},
		{
			name:    "spawn error",
			ev:      process.Event{Slot: "main", Seq: 4, Kind: process.KindError, ErrorKind: process.ErrorKindSpawn, Text: "no such file"},
			expJSON: `{"type":"error","slot":"main","seq":4,"text":"no such file","kind":"spawn"}`,
		},
		{
			name:    "started",
			ev:      process.Event{Slot: "main", Seq: 5, Kind: process.KindLifecycle, Tag: process.LifecycleStarted},
			expJSON: `{"type":"status","slot":"main","seq":5,"running":true,"state":"Running","tag":"started"}`,
		},
		{
			name:    "stopped",
			ev:      process.Event{Slot: "main", Seq: 6, Kind: process.KindLifecycle, Tag: process.LifecycleStoppedByController},
			expJSON: `{"type":"status","slot":"main","seq":6,"running":true,"state":"Terminating","tag":"stopped-by-controller"}`,
		},
		{
			name:    "exited",
			ev:      process.Event{Slot: "main", Seq: 7, Kind: process.KindTerminated, Exit: &process.ExitStatus{Code: 0}},
			expJSON: `{"type":"exited","slot":"main","seq":7,"exitCode":0}`,
		},
		{
			name:    "killed",
			ev:      process.Event{Slot: "main", Seq: 8, Kind: process.KindTerminated, Exit: &process.ExitStatus{Code: -1, Signal: "SIGTERM", Killed: true}},
			expJSON: `{"type":"exited","slot":"main","seq":8,"exitCode":-1,"signal":"SIGTERM","killed":true}`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := json.Marshal(MessageFromEvent(c.ev))
			require.NoError(t, err)
			assert.JSONEq(t, c.expJSON, string(b))
		})
	}
}

func TestStatusMessage(t *testing.T) {
	b, err := json.Marshal(StatusMessage(supervisor.Status{Slot: "main", State: supervisor.Idle}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","slot":"main","running":false,"state":"Idle"}`, string(b))
}
