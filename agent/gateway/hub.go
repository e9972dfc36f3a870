package gateway

import (
	"sync"

	"github.com/guseggert/procrelay/agent/metrics"
	"github.com/guseggert/procrelay/agent/process"
	"go.uber.org/zap"
)

const DefaultBufferSize = 256

// Hub fans events out to subscriptions. Publish never blocks.
// Publishes are serialized, so every subscription observes events in the same order.
type Hub struct {
	log     *zap.SugaredLogger
	metrics metrics.Collector

	mut  sync.Mutex
	subs map[string]*Subscription
}

var _ process.Sink = (*Hub)(nil)

func NewHub(log *zap.SugaredLogger, m metrics.Collector) *Hub {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Hub{
		log:     log.Named("hub"),
		metrics: m,
		subs:    map[string]*Subscription{},
	}
}

// Subscription is a bounded, drop-oldest queue of events for one consumer.
type Subscription struct {
	id    string
	slots map[string]bool
	ch    chan process.Event
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) C() <-chan process.Event { return s.ch }

func (s *Subscription) wants(slot string) bool {
	return s.slots == nil || s.slots[slot]
}

// Subscribe registers a subscription holding up to bufSize events. If slots is empty, events for all slots are
// delivered.
func (h *Hub) Subscribe(id string, bufSize int, slots []string) *Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	sub := &Subscription{id: id, ch: make(chan process.Event, bufSize)}
	if len(slots) > 0 {
		sub.slots = map[string]bool{}
		for _, s := range slots {
			sub.slots[s] = true
		}
	}
	h.mut.Lock()
	h.subs[id] = sub
	h.mut.Unlock()
	h.log.Debugw("added subscription", "ID", id, "Slots", slots)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mut.Lock()
	delete(h.subs, sub.id)
	h.mut.Unlock()
	h.log.Debugw("removed subscription", "ID", sub.id)
}

func (h *Hub) Publish(ev process.Event) {
	h.mut.Lock()
	defer h.mut.Unlock()
	for _, sub := range h.subs {
		if !sub.wants(ev.Slot) {
			continue
		}
		if dropped := offer(sub.ch, ev); dropped > 0 {
			h.metrics.EventDropped(ev.Slot)
			h.log.Debugw("subscription buffer full, dropped oldest event", "ID", sub.id, "Slot", ev.Slot)
		}
	}
}

// offer enqueues ev, discarding the oldest queued events until it fits.
// Only the hub sends on the channel and it holds the lock, so this terminates.
func offer(ch chan process.Event, ev process.Event) int {
	dropped := 0
	for {
		select {
		case ch <- ev:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
	}
}
