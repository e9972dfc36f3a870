package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Conn is a controller's side of a gateway connection.
type Conn struct {
	log  *zap.SugaredLogger
	conn *websocket.Conn
}

// Dial connects to the gateway at wsURL, subscribing to slots, or to every slot if none are given.
func Dial(ctx context.Context, wsURL string, httpClient *http.Client, log *zap.SugaredLogger, slots ...string) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}
	if len(slots) > 0 {
		q := u.Query()
		for _, s := range slots {
			q.Add("slot", s)
		}
		u.RawQuery = q.Encode()
	}

	log.Debugw("dialing WebSocket", "URL", u.String())
	wsConn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:      httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(readLimit)
	return &Conn{log: log, conn: wsConn}, nil
}

func (c *Conn) Send(ctx context.Context, req Request) error {
	if err := wsjson.Write(ctx, c.conn, &req); err != nil {
		return fmt.Errorf("sending %s request: %w", req.Type, err)
	}
	return nil
}

func (c *Conn) Start(ctx context.Context, slot string) error {
	return c.Send(ctx, Request{Type: RequestStart, Slot: slot})
}

func (c *Conn) Stop(ctx context.Context, slot string) error {
	return c.Send(ctx, Request{Type: RequestStop, Slot: slot})
}

func (c *Conn) Input(ctx context.Context, slot, text string) error {
	return c.Send(ctx, Request{Type: RequestInput, Slot: slot, Text: text})
}

// Next blocks until the next message arrives. Cancelling ctx closes the connection.
func (c *Conn) Next(ctx context.Context) (Message, error) {
	var msg Message
	err := wsjson.Read(ctx, c.conn, &msg)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Conn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.log.Debugw("closed conn", "Error", err)
	return err
}
