package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/guseggert/procrelay/agent/gateway"
	"github.com/guseggert/procrelay/agent/supervisor"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrUnknownSlot is returned when the agent has no slot with the requested name.
var ErrUnknownSlot = errors.New("unknown slot")

// Client talks to an agent's HTTP endpoints and opens gateway connections.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)

	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the agent listening on addr (host:port).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       log.Named("agent_client"),
		baseURL:      "http://" + addr,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := c.do(ctx, http.MethodGet, "/heartbeat", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// Slots returns the status of every slot, in configuration order.
func (c *Client) Slots(ctx context.Context) ([]supervisor.Status, error) {
	var statuses []supervisor.Status
	if err := c.getJSON(ctx, "/slots", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *Client) Slot(ctx context.Context, slot string) (supervisor.Status, error) {
	var status supervisor.Status
	if err := c.getJSON(ctx, "/slots/"+url.PathEscape(slot), &status); err != nil {
		return supervisor.Status{}, err
	}
	return status, nil
}

func (c *Client) Start(ctx context.Context, slot string) error {
	return c.postCommand(ctx, slot, "start", nil)
}

func (c *Client) Stop(ctx context.Context, slot string) error {
	return c.postCommand(ctx, slot, "stop", nil)
}

func (c *Client) Input(ctx context.Context, slot, text string) error {
	b, err := json.Marshal(InputRequest{Text: text})
	if err != nil {
		return err
	}
	return c.postCommand(ctx, slot, "input", b)
}

// Connect opens a gateway connection subscribed to slots, or to every slot if none are given.
func (c *Client) Connect(ctx context.Context, slots ...string) (*gateway.Conn, error) {
	u := "ws" + c.baseURL[len("http"):] + "/ws"
	// the upgrade response can't go through the retrying transport
	return gateway.Dial(ctx, u, &http.Client{}, c.Logger.Named("gateway_conn"), slots...)
}

func (c *Client) postCommand(ctx context.Context, slot, command string, body []byte) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/slots/%s/%s", url.PathEscape(slot), command), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp, command)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "fetching "+path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response, action string) error {
	var body string
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		body = fmt.Errorf("error reading body: %w", err).Error()
	} else {
		body = string(bytes.TrimSpace(b))
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %s", action, ErrUnknownSlot, body)
	}
	return fmt.Errorf("non-2xx HTTP status code %d received when %s: %s", resp.StatusCode, action, body)
}
