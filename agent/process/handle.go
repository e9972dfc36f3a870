package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// readBufSize bounds the size of a single output event.
	readBufSize = 8192

	stdinQueueSize = 64

	DefaultDrainTimeout = 2 * time.Second
)

// Spec describes the process to launch.
type Spec struct {
	Path string
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
	Dir string

	// DrainTimeout bounds how long the exit notification waits for stdout and stderr to reach EOF after the process
	// has been reaped. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Handle owns one OS process and its three standard streams.
type Handle struct {
	log          *zap.SugaredLogger
	cmd          *exec.Cmd
	startedAt    time.Time
	drainTimeout time.Duration

	stdin   io.WriteCloser
	stdinCh chan string
	stdout  *os.File
	stderr  *os.File

	// relays tracks the stdout and stderr readers.
	relays    sync.WaitGroup
	watchOnce sync.Once

	killed atomic.Bool

	done   chan struct{}
	status ExitStatus
}

// Spawn launches the process with piped stdin, stdout and stderr.
// Output isn't read until Watch is called, and Watch must be called for the process to be reaped.
func Spawn(spec Spec, log *zap.SugaredLogger) (*Handle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcAttrs(cmd)

	spawnErr := func(err error) error { return &SpawnError{Path: spec.Path, Err: err} }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnErr(err)
	}

	// os.Pipe is used instead of StdoutPipe so that Wait doesn't close the read ends before the relays have drained them.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, spawnErr(err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		closeFiles(stdoutR, stdoutW)
		return nil, spawnErr(err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// the child has its own copies of the write ends
	closeFiles(stdoutW, stderrW)
	if err != nil {
		closeFiles(stdoutR, stderrR)
		return nil, spawnErr(err)
	}

	drainTimeout := spec.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	h := &Handle{
		log:          log.With("PID", cmd.Process.Pid),
		cmd:          cmd,
		startedAt:    time.Now(),
		drainTimeout: drainTimeout,
		stdin:        stdin,
		stdinCh:      make(chan string, stdinQueueSize),
		stdout:       stdoutR,
		stderr:       stderrR,
		done:         make(chan struct{}),
	}
	h.log.Debugw("process started", "Path", spec.Path, "Args", spec.Args)
	return h, nil
}

// Watch starts relaying output and stdin to and from the process.
// Output and asynchronous stdin errors are published to sink. onExit is called exactly once, after the process has
// been reaped and its output drained. Calling Watch more than once has no effect.
func (h *Handle) Watch(sink Sink, onExit func(ExitStatus)) {
	h.watchOnce.Do(func() {
		h.relays.Add(2)
		go h.relay(h.stdout, KindStdout, sink)
		go h.relay(h.stderr, KindStderr, sink)
		go h.writeStdin(sink)
		go h.wait(onExit)
	})
}

func (h *Handle) PID() int { return h.cmd.Process.Pid }

func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the exit status is known.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus returns the exit status. It is only valid after Done is closed.
func (h *Handle) ExitStatus() ExitStatus {
	<-h.done
	return h.status
}

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// WriteStdin queues text followed by a newline for the process's stdin.
// Writes are applied in the order they were queued. It returns an *IOError if the process has exited or isn't
// keeping up with its input.
func (h *Handle) WriteStdin(text string) error {
	if h.exited() {
		return &IOError{Op: "writing stdin", Err: ErrProcessExited}
	}
	select {
	case h.stdinCh <- text + "\n":
		return nil
	default:
		return &IOError{Op: "writing stdin", Err: ErrStdinBacklog}
	}
}

// Terminate asks the process tree to exit. It returns once the request is made, the exit is observed via Watch.
func (h *Handle) Terminate() error {
	return h.signal(h.terminate)
}

// Kill forcibly ends the process tree.
func (h *Handle) Kill() error {
	return h.signal(h.kill)
}

func (h *Handle) signal(f func() error) error {
	if h.exited() {
		return nil
	}
	// set before signalling so that the waiter can't observe the exit first
	prev := h.killed.Swap(true)
	if err := f(); err != nil {
		if !prev {
			h.killed.Store(false)
		}
		return &TerminationError{PID: h.PID(), Err: err}
	}
	return nil
}

func (h *Handle) relay(r *os.File, kind Kind, sink Sink) {
	defer h.relays.Done()
	buf := make([]byte, readBufSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			if len(pending) > 0 {
				data = append(pending, data...)
				pending = nil
			}
			cut := completeUTF8Len(data)
			if cut > 0 {
				sink.Publish(Event{Kind: kind, Text: string(data[:cut])})
			}
			if cut < len(data) {
				pending = append([]byte(nil), data[cut:]...)
			}
		}
		if err != nil {
			if len(pending) > 0 {
				sink.Publish(Event{Kind: kind, Text: string(pending)})
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				h.log.Debugf("%s reader got error: %s", kind, err)
			}
			return
		}
	}
}

func (h *Handle) writeStdin(sink Sink) {
	for {
		select {
		case <-h.done:
			return
		case s := <-h.stdinCh:
			_, err := io.WriteString(h.stdin, s)
			if err != nil {
				h.log.Debugf("stdin writer got error: %s", err)
				ioErr := &IOError{Op: "writing stdin", Err: err}
				sink.Publish(Event{Kind: KindError, ErrorKind: ErrorKindIO, Text: ioErr.Error()})
			}
		}
	}
}

func (h *Handle) wait(onExit func(ExitStatus)) {
	err := h.cmd.Wait()
	status := exitStatusOf(h.cmd.ProcessState, err)
	status.Killed = h.killed.Load()

	drained := make(chan struct{})
	go func() {
		h.relays.Wait()
		close(drained)
	}()
	timer := time.NewTimer(h.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		// a descendant is probably still holding the pipes open
		h.log.Debugf("output not drained after %s, closing pipes", h.drainTimeout)
		closeFiles(h.stdout, h.stderr)
		<-drained
	}
	closeFiles(h.stdout, h.stderr)

	h.log.Debugf("process %s", status)
	h.status = status
	close(h.done)
	onExit(status)
}

func exitStatusOf(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		s := ExitStatus{Code: -1}
		if err != nil {
			s.Err = err.Error()
		}
		return s
	}
	s := ExitStatus{Code: state.ExitCode(), Signal: signalName(state)}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		s.Err = err.Error()
	}
	return s
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
