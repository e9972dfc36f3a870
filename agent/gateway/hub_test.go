package gateway

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/guseggert/procrelay/agent/metrics"
	"github.com/guseggert/procrelay/agent/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type dropCounter struct {
	metrics.Collector
	dropped atomic.Int64
}

func (d *dropCounter) EventDropped(slot string) { d.dropped.Add(1) }

func drain(sub *Subscription) []process.Event {
	var events []process.Event
	for {
		select {
		case ev := <-sub.C():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestHubDropsOldest(t *testing.T) {
	m := &dropCounter{Collector: metrics.NewNoop()}
	hub := NewHub(zaptest.NewLogger(t).Sugar(), m)
	sub := hub.Subscribe("a", 3, nil)

	for i := 1; i <= 5; i++ {
		hub.Publish(process.Event{Slot: "main", Seq: uint64(i)})
	}

	events := drain(sub)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(4), events[1].Seq)
	assert.Equal(t, uint64(5), events[2].Seq)
	assert.Equal(t, int64(2), m.dropped.Load())
}

func TestHubFanOutOrder(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar(), nil)
	subs := []*Subscription{
		hub.Subscribe("a", 100, nil),
		hub.Subscribe("b", 100, nil),
		hub.Subscribe("c", 100, []string{"main"}),
	}
	for i := 0; i < 50; i++ {
		hub.Publish(process.Event{Slot: "main", Seq: uint64(i), Text: fmt.Sprint(i)})
	}

	first := drain(subs[0])
	require.Len(t, first, 50)
	for _, sub := range subs[1:] {
		assert.Equal(t, first, drain(sub))
	}
}

func TestHubSlotFilter(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar(), nil)
	all := hub.Subscribe("all", 10, nil)
	onlyMain := hub.Subscribe("main", 10, []string{"main"})

	hub.Publish(process.Event{Slot: "main", Text: "m"})
	hub.Publish(process.Event{Slot: "companionA", Text: "c"})

	assert.Len(t, drain(all), 2)
	events := drain(onlyMain)
	require.Len(t, events, 1)
	assert.Equal(t, "m", events[0].Text)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar(), nil)
	sub := hub.Subscribe("a", 10, nil)
	hub.Unsubscribe(sub)
	hub.Publish(process.Event{Slot: "main"})
	assert.Empty(t, drain(sub))
}

func TestSplitText(t *testing.T) {
	cases := []struct {
		name  string
		s     string
		limit int
		exp   []string
	}{
		{name: "empty", s: "", limit: 4, exp: []string{""}},
		{name: "fits", s: "abcd", limit: 4, exp: []string{"abcd"}},
		{name: "split", s: "abcdefghij", limit: 4, exp: []string{"abcd", "efgh", "ij"}},
		{name: "rune boundary", s: "ab€cd", limit: 4, exp: []string{"ab", "€c", "d"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			chunks := splitText(c.s, c.limit)
			assert.Equal(t, c.exp, chunks)
			assert.Equal(t, c.s, strings.Join(chunks, ""))
		})
	}
}

func TestSplitMessageNumbersParts(t *testing.T) {
	text := strings.Repeat("a", writeChunkLimit*2+10)
	msgs := splitMessage(Message{Type: MessageOutput, Slot: "main", Seq: 7, Stream: "stdout", Text: text})
	require.Len(t, msgs, 3)

	var sb strings.Builder
	for i, m := range msgs {
		assert.Equal(t, uint64(7), m.Seq)
		assert.Equal(t, i, m.Part)
		assert.Equal(t, "stdout", m.Stream)
		assert.LessOrEqual(t, len(m.Text), writeChunkLimit)
		sb.WriteString(m.Text)
	}
	assert.Equal(t, text, sb.String())

	single := splitMessage(Message{Type: MessageOutput, Seq: 8, Text: "short"})
	require.Len(t, single, 1)
	assert.Equal(t, 0, single[0].Part)
}
