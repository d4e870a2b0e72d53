package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is a message as received by a client; Data is left undecoded.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client subscribes to run channels of a remote hub.
type Client struct {
	ws *websocket.Conn
}

// Dial connects to a websocket endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, endpoint string, header http.Header) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Client{ws: ws}, nil
}

func (c *Client) control(action, runID string) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(Control{Action: action, RunID: runID})
}

// Join subscribes to runID.
func (c *Client) Join(runID string) error { return c.control("join", runID) }

// Leave unsubscribes from runID.
func (c *Client) Leave(runID string) error { return c.control("leave", runID) }

// Receive calls fn for every frame until ctx is cancelled, the server closes
// the connection, or fn returns an error.
func (c *Client) Receive(ctx context.Context, fn func(Frame) error) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				continue
			}
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
