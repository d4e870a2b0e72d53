package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxControlSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConnOptions tune a websocket subscriber.
type ConnOptions struct {
	Buffer       int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Control is a client frame asking to join or leave a run channel.
// joinSimulation and leaveSimulation are accepted as aliases.
type Control struct {
	Action string `json:"action"`
	RunID  string `json:"runId"`
}

// Conn is a Subscriber backed by a websocket connection. Messages are
// queued on a bounded buffer and written by a single pump goroutine.
type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	opts      ConnOptions
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, hub *Hub, opts ConnOptions) *Conn {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		ws:   ws,
		hub:  hub,
		send: make(chan []byte, opts.Buffer),
		done: make(chan struct{}),
		opts: opts,
	}
}

// Deliver queues m without blocking.
func (c *Conn) Deliver(m Message) bool {
	data, err := json.Marshal(m)
	if err != nil {
		c.opts.Logger.Error("encode broadcast message", "event", m.Event, "err", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Serve upgrades the request, joins the given channels and pumps frames
// until the client disconnects or ctx is cancelled.
func Serve(ctx context.Context, hub *Hub, w http.ResponseWriter, r *http.Request, opts ConnOptions, channels ...string) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := NewConn(ws, hub, opts)
	for _, ch := range channels {
		if ch != "" {
			hub.Join(ch, c)
		}
	}
	c.Run(ctx)
	return nil
}

// Run blocks until the connection ends, then removes c from every channel.
func (c *Conn) Run(ctx context.Context) {
	defer c.close()
	go c.writePump(ctx)
	c.readPump()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.LeaveAll(c)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxControlSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.opts.Logger.Warn("websocket read", "err", err)
			}
			return
		}
		var ctl Control
		if err := json.Unmarshal(data, &ctl); err != nil || strings.TrimSpace(ctl.RunID) == "" {
			c.opts.Logger.Debug("ignoring malformed control frame", "frame", string(data))
			continue
		}
		switch ctl.Action {
		case "join", "joinSimulation":
			c.hub.Join(ctl.RunID, c)
		case "leave", "leaveSimulation":
			c.hub.Leave(ctl.RunID, c)
		default:
			c.opts.Logger.Debug("unknown control action", "action", ctl.Action)
		}
	}
}

// flush writes frames already queued, so messages published just before
// shutdown (such as simulationEnd) still reach the client.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(c.opts.WriteTimeout))
			return
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.opts.Logger.Debug("websocket write", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
