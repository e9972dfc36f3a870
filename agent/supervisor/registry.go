package supervisor

import (
	"context"
	"fmt"

	"github.com/guseggert/procrelay/agent/process"
	"golang.org/x/sync/errgroup"
)

// Registry maps slot names to supervisors. The first configured slot is the default.
type Registry struct {
	names []string
	sups  map[string]*Supervisor
}

// NewRegistry starts one supervisor per config. Slot names must be unique and non-empty.
func NewRegistry(cfgs []Config, sink process.Sink, opts ...Option) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no slots configured")
	}
	r := &Registry{sups: map[string]*Supervisor{}}
	for _, cfg := range cfgs {
		if cfg.Slot == "" {
			return nil, fmt.Errorf("slot name must not be empty")
		}
		if _, ok := r.sups[cfg.Slot]; ok {
			return nil, fmt.Errorf("duplicate slot %q", cfg.Slot)
		}
		r.names = append(r.names, cfg.Slot)
		r.sups[cfg.Slot] = nil
	}
	for _, cfg := range cfgs {
		r.sups[cfg.Slot] = New(cfg, sink, opts...)
	}
	return r, nil
}

// Get returns the supervisor for slot. An empty slot resolves to the default.
func (r *Registry) Get(slot string) (*Supervisor, bool) {
	if slot == "" {
		return r.Default(), true
	}
	s, ok := r.sups[slot]
	return s, ok
}

func (r *Registry) Default() *Supervisor { return r.sups[r.names[0]] }

// Names returns slot names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Statuses() []Status {
	statuses := make([]Status, 0, len(r.names))
	for _, name := range r.names {
		statuses = append(statuses, r.sups[name].Status())
	}
	return statuses
}

// Shutdown shuts down every supervisor in parallel, killing active processes.
func (r *Registry) Shutdown(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range r.names {
		sup := r.sups[name]
		group.Go(func() error {
			if err := sup.Shutdown(groupCtx); err != nil {
				return fmt.Errorf("shutting down slot %q: %w", sup.Slot(), err)
			}
			return nil
		})
	}
	return group.Wait()
}
