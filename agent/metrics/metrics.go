// Package metrics defines the metrics reported by supervisors and the gateway, with no-op and Prometheus implementations.
package metrics

// Collector receives metric observations.
// Implementations must be safe for concurrent use.
type Collector interface {
	// StateTransition records a supervisor moving between lifecycle states.
	StateTransition(slot, from, to string)

	// SpawnFailed records a start command that couldn't launch its process.
	SpawnFailed(slot string)

	// ProcessExited records a process exit. forced is true if the process was signalled or killed on request.
	ProcessExited(slot string, forced bool)

	// OutputBytes records bytes relayed from a process stream.
	OutputBytes(slot, stream string, n int)

	// ErrorEvent records an error event of the given kind.
	ErrorEvent(slot, kind string)

	// ConnectionOpened and ConnectionClosed track controller connections.
	ConnectionOpened()
	ConnectionClosed()

	// EventDropped records an event discarded because a connection's buffer was full.
	EventDropped(slot string)
}

type noop struct{}

func (noop) StateTransition(slot, from, to string)  {}
func (noop) SpawnFailed(slot string)                {}
func (noop) ProcessExited(slot string, forced bool) {}
func (noop) OutputBytes(slot, stream string, n int) {}
func (noop) ErrorEvent(slot, kind string)           {}
func (noop) ConnectionOpened()                      {}
func (noop) ConnectionClosed()                      {}
func (noop) EventDropped(slot string)               {}

// NewNoop returns a Collector that discards everything.
func NewNoop() Collector { return noop{} }
