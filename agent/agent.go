package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/procrelay/agent/gateway"
	"github.com/guseggert/procrelay/agent/metrics"
	"github.com/guseggert/procrelay/agent/supervisor"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultListenAddr = "127.0.0.1:3000"

// Agent is the HTTP server that hosts the WebSocket gateway and the slot endpoints.
// It owns the supervisors and shuts them down when it stops.
type Agent struct {
	logger *zap.SugaredLogger

	listenAddr       string
	bufferSize       int
	metricsNamespace string

	metrics    *metrics.Prometheus
	registry   *supervisor.Registry
	gateway    *gateway.Server
	httpServer *http.Server

	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(a *Agent)

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithBufferSize sets the number of events buffered for each controller connection.
func WithBufferSize(n int) Option {
	return func(a *Agent) {
		a.bufferSize = n
	}
}

func WithMetricsNamespace(ns string) Option {
	return func(a *Agent) {
		a.metricsNamespace = ns
	}
}

// New constructs an agent and starts a supervisor for each slot. No process is launched until a controller asks.
func New(slots []supervisor.Config, opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:        logger.Sugar(),
		listenAddr:    DefaultListenAddr,
		bufferSize:    gateway.DefaultBufferSize,
		lastHeartbeat: time.Now(),
	}
	for _, o := range opts {
		o(a)
	}
	log := a.logger
	a.logger = log.Named("agent")

	a.metrics = metrics.NewPrometheus(a.metricsNamespace)
	hub := gateway.NewHub(log, a.metrics)
	a.registry, err = supervisor.NewRegistry(slots, hub,
		supervisor.WithLogger(log),
		supervisor.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("building supervisors: %w", err)
	}
	a.gateway = gateway.NewServer(a.registry, hub,
		gateway.WithLogger(log),
		gateway.WithMetrics(a.metrics),
		gateway.WithBufferSize(a.bufferSize),
	)

	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.GET("/ws", a.ws)
	router.GET("/slots", a.listSlots)
	router.GET("/slots/:slot", a.getSlot)
	router.POST("/slots/:slot/start", a.start)
	router.POST("/slots/:slot/stop", a.stop)
	router.POST("/slots/:slot/input", a.input)
	router.Handler(http.MethodGet, "/metrics", a.metrics.Handler())

	a.httpServer = &http.Server{Handler: router}
	return a, nil
}

func (a *Agent) Registry() *supervisor.Registry { return a.registry }

// Run serves HTTP and returns once the agent has stopped.
func (a *Agent) Run() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	a.logger.Infow("listening", "Addr", listener.Addr().String())

	err = a.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops accepting requests, kills every supervised process and then closes controller connections, so that
// controllers see the exits.
func (a *Agent) Stop(ctx context.Context) error {
	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}
	if err := a.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.gateway.Close()
	a.logger.Info("stopped")
	return errors.Join(errs...)
}

func (a *Agent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.heartbeatMut.Lock()
	lastHeartbeat := a.lastHeartbeat
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()
	response := struct {
		LastHeartbeat string
	}{
		LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339),
	}
	a.writeJSON(w, http.StatusOK, response)
}

func (a *Agent) ws(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.gateway.ServeHTTP(w, r)
}

func (a *Agent) listSlots(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.writeJSON(w, http.StatusOK, a.registry.Statuses())
}

func (a *Agent) getSlot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sup, ok := a.lookup(w, params)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, sup.Status())
}

func (a *Agent) start(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sup, ok := a.lookup(w, params)
	if !ok {
		return
	}
	a.dispatch(w, sup.Start(r.Context()))
}

func (a *Agent) stop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sup, ok := a.lookup(w, params)
	if !ok {
		return
	}
	a.dispatch(w, sup.Stop(r.Context()))
}

type InputRequest struct {
	Text string `json:"text"`
}

func (a *Agent) input(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sup, ok := a.lookup(w, params)
	if !ok {
		return
	}
	var req InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.dispatch(w, sup.SendInput(r.Context(), req.Text))
}

func (a *Agent) lookup(w http.ResponseWriter, params httprouter.Params) (*supervisor.Supervisor, bool) {
	slot := params.ByName("slot")
	sup, ok := a.registry.Get(slot)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown slot %q", slot), http.StatusNotFound)
		return nil, false
	}
	return sup, true
}

// dispatch reports the outcome of handing a command to a supervisor. The effects of the command are observed through
// events, not the response.
func (a *Agent) dispatch(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, supervisor.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Debugf("dispatching command: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *Agent) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		a.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
