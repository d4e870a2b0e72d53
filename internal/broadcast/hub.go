// Package broadcast fans run messages out to the subscribers of a channel.
package broadcast

import (
	"sync"
)

// Message event names.
const (
	EventTelemetry     = "telemetry"
	EventIncident      = "event"
	EventSimulationEnd = "simulationEnd"
)

// Message is the envelope every subscriber receives.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber receives messages. Deliver must not block; it returns false
// when the message was dropped.
type Subscriber interface {
	Deliver(Message) bool
}

// Stats observes delivery outcomes.
type Stats interface {
	BroadcastDelivered(event string, n int)
	BroadcastDropped(event string, n int)
}

// Hub tracks channel membership. Membership is independent of whether a
// run with the channel's id exists.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[Subscriber]struct{}
	stats    Stats
}

// NewHub creates an empty hub. stats may be nil.
func NewHub(stats Stats) *Hub {
	return &Hub{channels: make(map[string]map[Subscriber]struct{}), stats: stats}
}

// Join adds s to channel. Joining twice is a no-op.
func (h *Hub) Join(channel string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.channels[channel] = members
	}
	members[s] = struct{}{}
}

// Leave removes s from channel.
func (h *Hub) Leave(channel string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(channel, s)
}

// LeaveAll removes s from every channel, used on disconnect.
func (h *Hub) LeaveAll(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.channels {
		h.leaveLocked(channel, s)
	}
}

func (h *Hub) leaveLocked(channel string, s Subscriber) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// Publish delivers m to the current members of channel and returns how many
// accepted it. Members that join later never see m.
func (h *Hub) Publish(channel string, m Message) int {
	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if s.Deliver(m) {
			delivered++
		}
	}
	if h.stats != nil {
		if delivered > 0 {
			h.stats.BroadcastDelivered(m.Event, delivered)
		}
		if dropped := len(members) - delivered; dropped > 0 {
			h.stats.BroadcastDropped(m.Event, dropped)
		}
	}
	return delivered
}

// Subscribers returns the member count of channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
