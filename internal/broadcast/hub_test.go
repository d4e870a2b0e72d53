package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	full bool
}

func (r *recorder) Deliver(m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.msgs = append(r.msgs, m)
	return true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type statsRecorder struct {
	delivered, dropped map[string]int
}

func (s *statsRecorder) BroadcastDelivered(event string, n int) { s.delivered[event] += n }
func (s *statsRecorder) BroadcastDropped(event string, n int)   { s.dropped[event] += n }

func TestPublishReachesOnlyMembers(t *testing.T) {
	h := NewHub(nil)
	a, b, other := &recorder{}, &recorder{}, &recorder{}
	h.Join("sim-1", a)
	h.Join("sim-1", b)
	h.Join("sim-2", other)

	n := h.Publish("sim-1", Message{Event: EventTelemetry, Data: map[string]any{"driverId": "d1"}})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, other.count())
}

func TestNoReplayForLateJoiners(t *testing.T) {
	h := NewHub(nil)
	assert.Equal(t, 0, h.Publish("sim-1", Message{Event: EventTelemetry}))

	late := &recorder{}
	h.Join("sim-1", late)
	assert.Equal(t, 0, late.count())
}

func TestJoinLeaveAndCounts(t *testing.T) {
	h := NewHub(nil)
	s := &recorder{}
	h.Join("sim-1", s)
	h.Join("sim-1", s)
	h.Join("sim-2", s)
	assert.Equal(t, 1, h.Subscribers("sim-1"))

	h.Leave("sim-1", s)
	assert.Equal(t, 0, h.Subscribers("sim-1"))
	assert.Equal(t, 1, h.Subscribers("sim-2"))

	h.Leave("missing", s)
	h.LeaveAll(s)
	assert.Equal(t, 0, h.Subscribers("sim-2"))
	assert.Equal(t, 0, h.Publish("sim-2", Message{Event: EventIncident}))
}

func TestFullSubscriberDropsWithoutBlocking(t *testing.T) {
	stats := &statsRecorder{delivered: map[string]int{}, dropped: map[string]int{}}
	h := NewHub(stats)
	ok, full := &recorder{}, &recorder{full: true}
	h.Join("sim-1", ok)
	h.Join("sim-1", full)

	assert.Equal(t, 1, h.Publish("sim-1", Message{Event: EventIncident}))
	assert.Equal(t, 1, stats.delivered[EventIncident])
	assert.Equal(t, 1, stats.dropped[EventIncident])
}

func TestConcurrentPublishAndMembership(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := &recorder{}
			for j := 0; j < 100; j++ {
				h.Join("sim-1", s)
				h.Leave("sim-1", s)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish("sim-1", Message{Event: EventTelemetry})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers("sim-1"))
}

func dialHub(t *testing.T, h *Hub, query string) (*websocket.Conn, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = Serve(ctx, h, w, r, ConnOptions{Buffer: 4}, r.URL.Query().Get("runId"))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws, cancel
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestWebsocketJoinViaControlFrame(t *testing.T) {
	h := NewHub(nil)
	ws, cancel := dialHub(t, h, "/")
	defer cancel()

	require.NoError(t, ws.WriteJSON(Control{Action: "joinSimulation", RunID: "sim-1"}))
	require.Eventually(t, func() bool { return h.Subscribers("sim-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish("sim-1", Message{Event: EventSimulationEnd, Data: map[string]string{"runId": "sim-1", "status": "completed"}})
	msg := readMessage(t, ws)
	assert.Equal(t, EventSimulationEnd, msg["event"])
	assert.Equal(t, "completed", msg["data"].(map[string]any)["status"])

	require.NoError(t, ws.WriteJSON(Control{Action: "leave", RunID: "sim-1"}))
	require.Eventually(t, func() bool { return h.Subscribers("sim-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketJoinViaQueryAndDisconnect(t *testing.T) {
	h := NewHub(nil)
	ws, cancel := dialHub(t, h, "/?runId=sim-9")
	defer cancel()

	require.Eventually(t, func() bool { return h.Subscribers("sim-9") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Publish("sim-9", Message{Event: EventTelemetry, Data: map[string]any{"driverId": "d1"}})
	assert.Equal(t, EventTelemetry, readMessage(t, ws)["event"])

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return h.Subscribers("sim-9") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketFlushesQueuedFramesOnShutdown(t *testing.T) {
	h := NewHub(nil)
	ws, cancel := dialHub(t, h, "/?runId=sim-3")

	require.Eventually(t, func() bool { return h.Subscribers("sim-3") == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Publish("sim-3", Message{Event: EventTelemetry, Data: map[string]any{"driverId": "d1"}})
	h.Publish("sim-3", Message{Event: EventSimulationEnd, Data: map[string]any{"status": "failed"}})
	cancel()

	assert.Equal(t, EventTelemetry, readMessage(t, ws)["event"])
	end := readMessage(t, ws)
	assert.Equal(t, EventSimulationEnd, end["event"])

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "want going-away close, got %v", err)
}
