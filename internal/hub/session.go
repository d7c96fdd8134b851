package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-eyecare/queuepulse/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// directive is an inbound client frame.
type directive struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Session is one staff websocket connection. Channel joins are restricted to
// the set the session's role is entitled to; anything else is ignored with a
// log entry.
type Session struct {
	hub     *Hub
	conn    *websocket.Conn
	logger  *zap.Logger
	staffID string
	role    string
	allowed map[string]struct{}

	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

// Attach registers a freshly upgraded connection with the hub and starts its
// read and write pumps. It returns once the session ends.
func (h *Hub) Attach(conn *websocket.Conn, staffID, role string) {
	allowed := make(map[string]struct{})
	for _, channel := range realtime.ComputeChannels(role, staffID) {
		allowed[channel] = struct{}{}
	}

	session := &Session{
		hub:     h,
		conn:    conn,
		logger:  h.logger.With(zap.String("staff_id", staffID)),
		staffID: staffID,
		role:    role,
		allowed: allowed,
		send:    make(chan []byte, sendBuffer),
	}

	h.add(session)
	go session.writePump()
	session.readPump()
}

// trySend enqueues a frame without blocking. Returns false when the session
// is closed or its buffer is full.
func (s *Session) trySend(frame []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) readPump() {
	defer func() {
		s.hub.remove(s)
		s.close()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("session read ended", zap.Error(err))
			}
			return
		}

		var d directive
		if err := json.Unmarshal(frame, &d); err != nil {
			s.logger.Warn("ignoring malformed directive", zap.Error(err))
			continue
		}
		s.handleDirective(d)
	}
}

func (s *Session) handleDirective(d directive) {
	switch d.Action {
	case "join":
		if _, ok := s.allowed[d.Channel]; !ok {
			s.logger.Warn("rejecting join outside role entitlement",
				zap.String("channel", d.Channel), zap.String("role", s.role))
			return
		}
		s.hub.join(s, d.Channel)
	case "leave":
		s.hub.leave(s, d.Channel)
	default:
		s.logger.Warn("ignoring unknown directive", zap.String("action", d.Action))
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
