package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/registry"
)

// State tracks where a session is in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

// Session is the protocol state machine for one connection: join,
// send initial state, accept updates last-write-wins, broadcast, and
// clean up exactly once on disconnect.
type Session struct {
	registry *registry.Registry
	conn     registry.Conn
	roomID   string

	mu    sync.Mutex
	state State

	leaveOnce sync.Once
}

func NewSession(reg *registry.Registry, conn registry.Conn, roomID string) *Session {
	return &Session{
		registry: reg,
		conn:     conn,
		roomID:   roomID,
		state:    StateConnecting,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join registers the connection with its room and sends the initial
// state to this connection only. On failure the session is closed and
// the error is returned for the transport to surface.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("join in state %d", s.state)
	}
	s.mu.Unlock()

	code, err := s.registry.Join(ctx, s.roomID, s.conn)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = StateJoined
	s.mu.Unlock()

	s.conn.Enqueue(encodeInitialState(code, s.roomID))
	return nil
}

// Handle processes one inbound frame. Malformed input answers the
// sender with an error envelope and leaves the session open; only
// transport failures end a session.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	if s.State() != StateJoined {
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": s.roomID,
			"conn_id": s.conn.ID(),
			"error":   err,
		}).Warn("invalid JSON received")
		s.conn.Enqueue(encodeError("Invalid JSON format"))
		return
	}

	switch msg.Type {
	case TypeCodeUpdate:
		s.handleCodeUpdate(ctx, &msg)
	default:
		logrus.WithFields(logrus.Fields{
			"room_id": s.roomID,
			"type":    msg.Type,
		}).Warn("unknown message type")
		s.conn.Enqueue(encodeError(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

func (s *Session) handleCodeUpdate(ctx context.Context, msg *Message) {
	if msg.Code == nil {
		logrus.WithField("room_id", s.roomID).Warn("code_update without code field")
		s.conn.Enqueue(encodeError("Missing 'code' field in code_update message"))
		return
	}

	payload := encodeCodeUpdate(*msg.Code, msg.Timestamp)
	if err := s.registry.Apply(ctx, s.roomID, s.conn, *msg.Code, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": s.roomID,
			"error":   err,
		}).Error("failed to apply update")
		s.conn.Enqueue(encodeError("Failed to update room code"))
		return
	}

	logrus.WithField("room_id", s.roomID).Debug("code updated and broadcast")
}

// Close moves the session to its terminal state and releases the
// connection from the registry. Idempotent: every failure path may
// call it.
func (s *Session) Close() {
	s.mu.Lock()
	joined := s.state == StateJoined
	s.state = StateClosed
	s.mu.Unlock()

	if joined {
		s.leaveOnce.Do(func() {
			s.registry.Leave(s.roomID, s.conn)
		})
	}
}
