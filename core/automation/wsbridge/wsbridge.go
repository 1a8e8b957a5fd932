// Package wsbridge drives a remote UI surface over a websocket. The remote
// end answers each request with exactly one response carrying the same id.
package wsbridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/automation"
	"github.com/koscakluka/ema-relay/core/events"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-relay/core/automation/wsbridge"

var logger = otelslog.NewLogger(scopeName)

var ErrClosed = errors.New("websocket bridge closed")

const defaultTimeout = 30 * time.Second

type request struct {
	ID     uint64         `json:"id"`
	Op     string         `json:"op"`
	Action *events.Action `json:"action,omitempty"`
	URL    string         `json:"url,omitempty"`
}

type response struct {
	ID         uint64 `json:"id"`
	Screenshot string `json:"screenshot,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Client is an automation.Executor backed by a websocket connection.
type Client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	closed  bool
	timeout time.Duration
}

var _ automation.Executor = (*Client)(nil)

func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial automation bridge: %w", err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, timeout: defaultTimeout}
}

func (c *Client) Execute(ctx context.Context, action events.Action) (automation.Result, error) {
	return c.roundTrip(ctx, request{Op: "execute", Action: &action})
}

func (c *Client) Navigate(ctx context.Context, url string) (automation.Result, error) {
	return c.roundTrip(ctx, request{Op: "navigate", URL: url})
}

func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	result, err := c.roundTrip(ctx, request{Op: "state"})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

func (c *Client) roundTrip(ctx context.Context, req request) (automation.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return automation.Result{}, ErrClosed
	}

	c.nextID++
	req.ID = c.nextID

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return automation.Result{}, err
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return automation.Result{}, err
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return automation.Result{}, fmt.Errorf("failed to send %s request: %w", req.Op, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return automation.Result{}, err
		}

		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return automation.Result{}, fmt.Errorf("failed to read %s response: %w", req.Op, err)
		}
		if resp.ID != req.ID {
			logger.Debug("dropping stale bridge response", "id", resp.ID, "expected", req.ID)
			continue
		}
		if resp.Error != "" {
			return automation.Result{}, fmt.Errorf("%s failed: %s", req.Op, resp.Error)
		}

		result := automation.Result{URL: resp.URL}
		if resp.Screenshot != "" {
			screenshot, err := base64.StdEncoding.DecodeString(resp.Screenshot)
			if err != nil {
				return automation.Result{}, fmt.Errorf("failed to decode screenshot: %w", err)
			}
			result.Screenshot = screenshot
		}
		return result, nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
