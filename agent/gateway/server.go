package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/procrelay/agent/metrics"
	"github.com/guseggert/procrelay/agent/supervisor"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 10 * time.Second
	flushTimeout = time.Second
)

// Server accepts controller connections.
type Server struct {
	log        *zap.SugaredLogger
	metrics    metrics.Collector
	hub        *Hub
	registry   *supervisor.Registry
	bufferSize int

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

type Option func(s *Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBufferSize sets how many events are buffered per connection before the oldest are dropped.
func WithBufferSize(n int) Option {
	return func(s *Server) {
		s.bufferSize = n
	}
}

func NewServer(registry *supervisor.Registry, hub *Hub, opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		metrics:    metrics.NewNoop(),
		hub:        hub,
		registry:   registry,
		bufferSize: DefaultBufferSize,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("gateway")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Close flushes buffered events to every open connection and closes them.
func (s *Server) Close() {
	s.cancel()
	s.conns.Wait()
}

// ServeHTTP upgrades the request to a WebSocket. Repeated slot query parameters narrow the subscription.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slots := r.URL.Query()["slot"]
	for _, slot := range slots {
		if _, ok := s.registry.Get(slot); !ok || slot == "" {
			http.Error(w, fmt.Sprintf("unknown slot %q", slot), http.StatusBadRequest)
			return
		}
	}
	if s.ctx.Err() != nil {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)

	s.conns.Add(1)
	defer s.conns.Done()

	if len(slots) == 0 {
		slots = s.registry.Names()
	}
	id := uuid.NewString()
	c := &conn{
		log:    s.log.With("Conn", id),
		server: s,
		ws:     wsConn,
		ctx:    r.Context(),
		slots:  slots,
		direct: make(chan Message, 16),
	}
	c.log.Debugw("accepted WebSocket conn", "Slots", slots)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	c.sub = s.hub.Subscribe(id, s.bufferSize, slots)
	defer s.hub.Unsubscribe(c.sub)

	c.run()
}

type conn struct {
	log    *zap.SugaredLogger
	server *Server
	ws     *websocket.Conn
	ctx    context.Context
	slots  []string
	sub    *Subscription

	// direct carries replies meant only for this connection
	direct chan Message

	closeConnOnce sync.Once
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeConnOnce.Do(func() {
		err := c.ws.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (c *conn) run() {
	for _, slot := range c.slots {
		sup, _ := c.server.registry.Get(slot)
		if err := c.write(StatusMessage(sup.Status())); err != nil {
			c.log.Debugf("error sending initial status: %s", err)
			c.close(websocket.StatusInternalError, "sending status")
			return
		}
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readRequests()
	}()

	code, reason := c.writeMessages(readDone)
	c.close(code, reason)
	<-readDone
	c.log.Debug("connection closed")
}

func (c *conn) write(msg Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return writeMessage(ctx, c.ws, msg)
}

// writeMessages pumps subscribed events and direct replies to the controller until the read side ends, a write
// fails, or the server closes.
func (c *conn) writeMessages(readDone <-chan struct{}) (websocket.StatusCode, string) {
	for {
		var msg Message
		select {
		case <-readDone:
			return websocket.StatusNormalClosure, ""
		case <-c.server.ctx.Done():
			c.flush()
			return websocket.StatusGoingAway, "server shutting down"
		case ev := <-c.sub.C():
			msg = MessageFromEvent(ev)
		case msg = <-c.direct:
		}
		if err := c.write(msg); err != nil {
			c.log.Debugf("error writing message: %s", err)
			return websocket.StatusInternalError, "write failed"
		}
	}
}

// flush sends events that are already buffered.
func (c *conn) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-c.sub.C():
			if err := writeMessage(ctx, c.ws, MessageFromEvent(ev)); err != nil {
				c.log.Debugf("error flushing: %s", err)
				return
			}
		default:
			return
		}
	}
}

func (c *conn) readRequests() {
	for {
		var req Request
		err := wsjson.Read(c.ctx, c.ws, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
			c.log.Debug("got closure from controller")
			return
		}
		if err != nil {
			c.log.Debugf("message reader got error: %s", err)
			return
		}
		c.log.Debugw("got request", "Type", req.Type, "Slot", req.Slot)
		if err := c.dispatch(req); err != nil {
			c.reply(requestErrorMessage(req.Slot, err.Error()))
		}
	}
}

var errUnknownRequest = errors.New("unknown request type")

func (c *conn) dispatch(req Request) error {
	sup, ok := c.server.registry.Get(req.Slot)
	if !ok {
		return fmt.Errorf("unknown slot %q", req.Slot)
	}
	var err error
	switch req.Type {
	case RequestStart:
		err = sup.Start(c.ctx)
	case RequestStop:
		err = sup.Stop(c.ctx)
	case RequestInput:
		err = sup.SendInput(c.ctx, req.Text)
	default:
		return fmt.Errorf("%w %q", errUnknownRequest, req.Type)
	}
	if err != nil {
		// the supervisor is shutting down or the controller went away, neither is the controller's fault
		c.log.Debugf("dispatching %s to slot %q: %s", req.Type, sup.Slot(), err)
	}
	return nil
}

func (c *conn) reply(msg Message) {
	select {
	case c.direct <- msg:
	default:
		c.log.Debugw("dropping reply, connection is backed up", "Text", msg.Text)
	}
}
