// Package supervisor runs the lifecycle state machine for named process slots.
package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guseggert/procrelay/agent/metrics"
	"github.com/guseggert/procrelay/agent/process"
	"go.uber.org/zap"
)

// ErrClosed is returned by commands sent to a supervisor that has shut down.
var ErrClosed = errors.New("supervisor closed")

// Config describes the process managed by one slot.
type Config struct {
	Slot string
	Path string
	Args []string
	// Env entries are in KEY=VALUE form.
	Env []string
	Dir string
	// EchoInput publishes each line sent to stdin as an input event before it is written.
	EchoInput    bool
	DrainTimeout time.Duration
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	Slot      string     `json:"slot"`
	State     State      `json:"state"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Command   string     `json:"command"`
	Args      []string   `json:"args,omitempty"`
	Installed bool       `json:"installed"`
}

type op int

const (
	opStart op = iota
	opStop
	opInput
	opShutdown
)

type command struct {
	op   op
	text string
	done chan struct{}
}

type exitNote struct {
	h      *process.Handle
	status process.ExitStatus
}

// Supervisor owns at most one process for a slot.
// All commands and exit notifications are handled sequentially by a single goroutine, so state transitions never
// interleave.
type Supervisor struct {
	log     *zap.SugaredLogger
	metrics metrics.Collector
	cfg     Config
	sink    process.Sink

	cmds     chan command
	exits    chan exitNote
	loopDone chan struct{}

	// owned by the loop
	state   State
	handle  *process.Handle
	closing bool

	emitMut sync.Mutex
	seq     uint64

	status atomic.Pointer[Status]

	terminate func(h *process.Handle) error
}

type Option func(s *Supervisor)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// New starts a supervisor in the Idle state. Events for the slot are published to sink.
func New(cfg Config, sink process.Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:       zap.NewNop().Sugar(),
		metrics:   metrics.NewNoop(),
		cfg:       cfg,
		sink:      sink,
		cmds:      make(chan command),
		exits:     make(chan exitNote),
		loopDone:  make(chan struct{}),
		terminate: (*process.Handle).Terminate,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("supervisor").With("Slot", cfg.Slot)
	s.storeStatus()
	go s.run()
	return s
}

func (s *Supervisor) Slot() string { return s.cfg.Slot }

// Start launches the process if the slot is Idle. It returns once the command has been handled.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.send(ctx, command{op: opStart})
}

// Stop requests termination of the running process. It returns without waiting for the process to exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.send(ctx, command{op: opStop})
}

// SendInput writes text and a newline to the process's stdin. Input is dropped unless the slot is Running.
func (s *Supervisor) SendInput(ctx context.Context, text string) error {
	return s.send(ctx, command{op: opInput, text: text})
}

// Shutdown kills any active process and waits for its exit before stopping the supervisor.
// Subsequent commands return ErrClosed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.send(ctx, command{op: opShutdown})
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the supervisor has shut down.
func (s *Supervisor) Done() <-chan struct{} { return s.loopDone }

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	st := *s.status.Load()
	st.Installed = s.installed()
	return st
}

// installed reports whether the command resolves the way the child will see it. Relative paths with a directory
// component are resolved against the slot's working directory.
func (s *Supervisor) installed() bool {
	path := s.cfg.Path
	hasDir := strings.ContainsRune(path, '/') || strings.ContainsRune(path, filepath.Separator)
	if s.cfg.Dir != "" && hasDir && !filepath.IsAbs(path) {
		path = filepath.Join(s.cfg.Dir, path)
	}
	_, err := exec.LookPath(path)
	return err == nil
}

func (s *Supervisor) send(ctx context.Context, c command) error {
	c.done = make(chan struct{})
	select {
	case s.cmds <- c:
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run() {
	defer close(s.loopDone)
	for {
		select {
		case c := <-s.cmds:
			s.handleCommand(c)
			close(c.done)
		case n := <-s.exits:
			s.handleExit(n)
		}
		if s.closing && s.state == Idle {
			s.log.Debug("supervisor stopped")
			return
		}
	}
}

func (s *Supervisor) handleCommand(c command) {
	switch c.op {
	case opStart:
		s.start()
	case opStop:
		s.stop()
	case opInput:
		s.sendInput(c.text)
	case opShutdown:
		s.shutdown()
	}
}

func (s *Supervisor) start() {
	if s.closing {
		s.log.Debug("ignoring start, supervisor is shutting down")
		return
	}
	if s.state != Idle {
		s.log.Debugf("ignoring start in state %s", s.state)
		return
	}

	h, err := process.Spawn(process.Spec{
		Path:         s.cfg.Path,
		Args:         s.cfg.Args,
		Env:          s.cfg.Env,
		Dir:          s.cfg.Dir,
		DrainTimeout: s.cfg.DrainTimeout,
	}, s.log)
	if err != nil {
		s.log.Warnw("unable to start process", "Error", err)
		s.metrics.SpawnFailed(s.cfg.Slot)
		s.emitError(process.ErrorKindSpawn, err)
		return
	}

	s.handle = h
	s.transition(Starting)
	s.emit(process.Event{Kind: process.KindLifecycle, Tag: process.LifecycleStarted})
	s.transition(Running)

	h.Watch(s.relaySink(), func(status process.ExitStatus) {
		select {
		case s.exits <- exitNote{h: h, status: status}:
		case <-s.loopDone:
		}
	})
	s.log.Infow("process started", "PID", h.PID())
}

func (s *Supervisor) stop() {
	if s.state != Starting && s.state != Running {
		s.log.Debugf("ignoring stop in state %s", s.state)
		return
	}
	s.transition(Terminating)
	err := s.terminate(s.handle)
	s.emit(process.Event{Kind: process.KindLifecycle, Tag: process.LifecycleStoppedByController})
	if err != nil {
		s.log.Warnw("unable to terminate process", "Error", err)
		s.emitError(process.ErrorKindTermination, err)
	}
}

func (s *Supervisor) sendInput(text string) {
	if s.state != Running {
		s.log.Debugf("dropping input in state %s", s.state)
		return
	}
	if s.cfg.EchoInput {
		s.emit(process.Event{Kind: process.KindInput, Text: text})
	}
	if err := s.handle.WriteStdin(text); err != nil {
		s.log.Debugf("writing stdin: %s", err)
		s.emitError(process.ErrorKindIO, err)
	}
}

func (s *Supervisor) shutdown() {
	s.closing = true
	if s.handle == nil {
		return
	}
	s.log.Infow("killing process for shutdown", "PID", s.handle.PID())
	if s.state != Terminating {
		s.transition(Terminating)
	}
	if err := s.handle.Kill(); err != nil {
		s.log.Warnw("unable to kill process", "Error", err)
		s.emitError(process.ErrorKindTermination, err)
	}
}

func (s *Supervisor) handleExit(n exitNote) {
	if n.h != s.handle {
		s.log.Debugw("ignoring exit of stale process", "PID", n.h.PID())
		return
	}
	s.log.Infow("process exited", "PID", n.h.PID(), "Status", n.status.String())
	s.metrics.ProcessExited(s.cfg.Slot, n.status.Forced())
	status := n.status
	s.emit(process.Event{Kind: process.KindTerminated, Exit: &status})
	s.handle = nil
	s.transition(Idle)
}

func (s *Supervisor) transition(to State) {
	from := s.state
	s.state = to
	s.metrics.StateTransition(s.cfg.Slot, from.String(), to.String())
	s.log.Debugf("%s -> %s", from, to)
	s.storeStatus()
}

func (s *Supervisor) storeStatus() {
	st := &Status{
		Slot:    s.cfg.Slot,
		State:   s.state,
		Running: s.handle != nil,
		Command: s.cfg.Path,
		Args:    s.cfg.Args,
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
		t := s.handle.StartedAt()
		st.StartedAt = &t
	}
	s.status.Store(st)
}

// emit stamps and publishes an event. Stamping and publishing happen under one lock so that sequence numbers reach
// the sink in order.
func (s *Supervisor) emit(ev process.Event) {
	s.emitMut.Lock()
	defer s.emitMut.Unlock()
	s.seq++
	ev.Slot = s.cfg.Slot
	ev.Seq = s.seq
	ev.Time = time.Now()
	s.sink.Publish(ev)
}

func (s *Supervisor) emitError(kind process.ErrorKind, err error) {
	s.metrics.ErrorEvent(s.cfg.Slot, string(kind))
	s.emit(process.Event{Kind: process.KindError, ErrorKind: kind, Text: err.Error()})
}

// relaySink receives events straight from a handle's stream goroutines, bypassing the loop.
func (s *Supervisor) relaySink() process.Sink {
	return process.SinkFunc(func(ev process.Event) {
		switch ev.Kind {
		case process.KindStdout, process.KindStderr:
			s.metrics.OutputBytes(s.cfg.Slot, ev.Kind.String(), len(ev.Text))
		case process.KindError:
			s.metrics.ErrorEvent(s.cfg.Slot, string(ev.ErrorKind))
		}
		s.emit(ev)
	})
}
