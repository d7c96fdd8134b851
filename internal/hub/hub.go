// Package hub fans queue events out to connected staff sockets. Each session
// subscribes to named channels via join directives; events published to a
// channel reach every member session.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Envelope is the wire frame pushed to clients.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Hub tracks live sessions and their channel memberships.
type Hub struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	channels map[string]map[*Session]struct{}
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:   logger,
		sessions: make(map[*Session]struct{}),
		channels: make(map[string]map[*Session]struct{}),
	}
}

// Publish sends one event to every session joined to the channel. Sessions
// whose outbound buffer is full are dropped rather than allowed to stall the
// publisher.
func (h *Hub) Publish(channel, eventType string, payload map[string]any) {
	frame, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal hub event", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.mu.Lock()
	members := make([]*Session, 0, len(h.channels[channel]))
	for session := range h.channels[channel] {
		members = append(members, session)
	}
	h.mu.Unlock()

	for _, session := range members {
		if !session.trySend(frame) {
			h.logger.Warn("dropping slow session",
				zap.String("staff_id", session.staffID), zap.String("channel", channel))
			h.remove(session)
			session.close()
		}
	}
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ChannelMembers reports how many sessions are joined to a channel.
func (h *Hub) ChannelMembers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) add(session *Session) {
	h.mu.Lock()
	h.sessions[session] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[session]; !ok {
		return
	}
	delete(h.sessions, session)
	for channel, members := range h.channels {
		delete(members, session)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) join(session *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[session]; !ok {
		return
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Session]struct{})
		h.channels[channel] = members
	}
	members[session] = struct{}{}
}

func (h *Hub) leave(session *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, session)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}
