package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "procrelay"

// Prometheus implements Collector with Prometheus metrics held in a private registry.
type Prometheus struct {
	stateTransitions *prometheus.CounterVec
	spawnFailures    *prometheus.CounterVec
	exits            *prometheus.CounterVec
	outputBytes      *prometheus.CounterVec
	errorEvents      *prometheus.CounterVec
	connections      prometheus.Gauge
	droppedEvents    *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus builds the collectors and registers them, along with the Go and process collectors, in a new registry.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = defaultNamespace
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_state_transitions_total",
			Help:      "Total number of supervisor state transitions",
		},
		[]string{"slot", "from_state", "to_state"},
	)
	p.spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_spawn_failures_total",
			Help:      "Total number of processes that failed to launch",
		},
		[]string{"slot"},
	)
	p.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_process_exits_total",
			Help:      "Total number of process exits",
		},
		[]string{"slot", "forced"},
	)
	p.outputBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_output_bytes_total",
			Help:      "Total bytes relayed from process output streams",
		},
		[]string{"slot", "stream"},
	)
	p.errorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_error_events_total",
			Help:      "Total number of error events",
		},
		[]string{"slot", "kind"},
	)
	p.connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Number of open controller connections",
		},
	)
	p.droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_dropped_events_total",
			Help:      "Total number of events dropped because a connection buffer was full",
		},
		[]string{"slot"},
	)

	p.registry.MustRegister(
		p.stateTransitions,
		p.spawnFailures,
		p.exits,
		p.outputBytes,
		p.errorEvents,
		p.connections,
		p.droppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) StateTransition(slot, from, to string) {
	p.stateTransitions.WithLabelValues(slot, from, to).Inc()
}

func (p *Prometheus) SpawnFailed(slot string) {
	p.spawnFailures.WithLabelValues(slot).Inc()
}

func (p *Prometheus) ProcessExited(slot string, forced bool) {
	p.exits.WithLabelValues(slot, strconv.FormatBool(forced)).Inc()
}

func (p *Prometheus) OutputBytes(slot, stream string, n int) {
	p.outputBytes.WithLabelValues(slot, stream).Add(float64(n))
}

func (p *Prometheus) ErrorEvent(slot, kind string) {
	p.errorEvents.WithLabelValues(slot, kind).Inc()
}

func (p *Prometheus) ConnectionOpened() { p.connections.Inc() }

func (p *Prometheus) ConnectionClosed() { p.connections.Dec() }

func (p *Prometheus) EventDropped(slot string) {
	p.droppedEvents.WithLabelValues(slot).Inc()
}

// Registry returns the registry holding all collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
