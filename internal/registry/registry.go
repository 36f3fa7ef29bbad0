package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/store"
)

// Conn is the outbound half of one attached client connection.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// Enqueue hands a frame to the connection's writer without blocking.
	// It reports false when the connection can no longer accept frames.
	Enqueue(data []byte) bool

	// Close tears the underlying transport down. Must be safe to call
	// more than once and from any goroutine.
	Close()
}

// roomState is the authoritative in-memory record for one live room:
// the current text plus the set of attached connections.
type roomState struct {
	id string

	mu     sync.Mutex
	loaded bool
	dead   bool
	code   string
	conns  map[Conn]bool
}

func newRoomState(id string) *roomState {
	return &roomState{
		id:    id,
		conns: make(map[Conn]bool),
	}
}

// peersLocked returns a snapshot of the room's connections minus the
// sender. Callers must hold s.mu.
func (s *roomState) peersLocked(exclude Conn) []Conn {
	peers := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != exclude {
			peers = append(peers, c)
		}
	}
	return peers
}

// Registry tracks which connections belong to which room and owns each
// room's in-memory text. All mutation of a room happens under that
// room's own lock; the registry lock only guards the room table.
type Registry struct {
	store store.DocumentStore

	mu    sync.Mutex
	rooms map[string]*roomState
}

func New(documents store.DocumentStore) *Registry {
	return &Registry{
		store: documents,
		rooms: make(map[string]*roomState),
	}
}

// Join attaches a connection to a room and returns the room's current
// text. The first join of a room loads its document from the store;
// store.ErrNotFound is returned when no document exists either.
func (r *Registry) Join(ctx context.Context, roomID string, c Conn) (string, error) {
	for {
		r.mu.Lock()
		state, ok := r.rooms[roomID]
		if !ok {
			state = newRoomState(roomID)
			r.rooms[roomID] = state
		}
		r.mu.Unlock()

		state.mu.Lock()
		if state.dead {
			// Lost a race with the last leave or a failed load.
			state.mu.Unlock()
			continue
		}

		if !state.loaded {
			code, err := r.store.Load(ctx, roomID)
			if err != nil {
				state.dead = true
				state.mu.Unlock()
				r.drop(roomID, state)
				return "", err
			}
			state.code = code
			state.loaded = true
		}

		state.conns[c] = true
		code := state.code
		total := len(state.conns)
		state.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"conn_id": c.ID(),
			"total":   total,
		}).Info("connection joined room")
		return code, nil
	}
}

// Leave detaches a connection from a room. The last leave drops the
// in-memory entry; the persisted document stays in the store. Safe to
// call for connections that already left.
func (r *Registry) Leave(roomID string, c Conn) {
	r.mu.Lock()
	state, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}

	state.mu.Lock()
	if !state.conns[c] {
		state.mu.Unlock()
		return
	}
	delete(state.conns, c)
	remaining := len(state.conns)
	if remaining == 0 {
		state.dead = true
	}
	state.mu.Unlock()

	if remaining == 0 {
		r.drop(roomID, state)
		logrus.WithField("room_id", roomID).Info("room closed (empty)")
		return
	}

	logrus.WithFields(logrus.Fields{
		"room_id":   roomID,
		"conn_id":   c.ID(),
		"remaining": remaining,
	}).Info("connection left room")
}

// drop removes a dead entry from the room table, but only while it is
// still the entry registered for that id.
func (r *Registry) drop(roomID string, state *roomState) {
	r.mu.Lock()
	if r.rooms[roomID] == state {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
}

// roomIDLength matches the shareable 8-character ids the clients expect.
const roomIDLength = 8

const createAttempts = 5

// CreateRoom writes an empty document under a freshly generated id and
// returns the id. Collisions regenerate rather than overwrite.
func (r *Registry) CreateRoom(ctx context.Context) (string, error) {
	for i := 0; i < createAttempts; i++ {
		id := uuid.NewString()[:roomIDLength]
		err := r.store.Create(ctx, id)
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		logrus.WithField("room_id", id).Info("room created")
		return id, nil
	}
	return "", fmt.Errorf("could not generate a unique room id after %d attempts", createAttempts)
}

// Apply runs the last-write-wins update path for one inbound edit:
// overwrite the room's text, persist best-effort, then fan the payload
// out to every other connection in the room. The persisted copy may lag
// on store errors; connected clients stay in sync regardless.
func (r *Registry) Apply(ctx context.Context, roomID string, sender Conn, code string, payload []byte) error {
	r.mu.Lock()
	state, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	state.mu.Lock()
	if state.dead {
		state.mu.Unlock()
		return store.ErrNotFound
	}
	state.code = code
	peers := state.peersLocked(sender)
	state.mu.Unlock()

	if err := r.store.Save(ctx, roomID, code); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"error":   err,
		}).Warn("failed to persist update; in-memory state remains authoritative")
	}

	r.deliver(roomID, peers, payload)
	return nil
}

// Broadcast delivers payload to every connection in the room except the
// sender. Delivery is best-effort and at-most-once per recipient.
func (r *Registry) Broadcast(roomID string, sender Conn, payload []byte) {
	r.mu.Lock()
	state, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}

	state.mu.Lock()
	peers := state.peersLocked(sender)
	state.mu.Unlock()

	r.deliver(roomID, peers, payload)
}

// deliver pushes payload to each peer independently. A peer that cannot
// accept the frame is detached and closed; its session finishes cleanup
// when the transport unwinds.
func (r *Registry) deliver(roomID string, peers []Conn, payload []byte) {
	for _, peer := range peers {
		if peer.Enqueue(payload) {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"conn_id": peer.ID(),
		}).Warn("dropping unresponsive connection")
		r.Leave(roomID, peer)
		peer.Close()
	}
}

// Code returns the room's current in-memory text. Reports false when
// the room has no live entry.
func (r *Registry) Code(roomID string) (string, bool) {
	r.mu.Lock()
	state, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.dead || !state.loaded {
		return "", false
	}
	return state.code, true
}

// RoomCount returns the number of rooms with live connections.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ConnCount returns the number of live connections across all rooms.
func (r *Registry) ConnCount() int {
	r.mu.Lock()
	states := make([]*roomState, 0, len(r.rooms))
	for _, state := range r.rooms {
		states = append(states, state)
	}
	r.mu.Unlock()

	total := 0
	for _, state := range states {
		state.mu.Lock()
		total += len(state.conns)
		state.mu.Unlock()
	}
	return total
}

// ActiveRooms maps each live room id to its connection count.
func (r *Registry) ActiveRooms() map[string]int {
	r.mu.Lock()
	states := make(map[string]*roomState, len(r.rooms))
	for id, state := range r.rooms {
		states[id] = state
	}
	r.mu.Unlock()

	active := make(map[string]int, len(states))
	for id, state := range states {
		state.mu.Lock()
		if n := len(state.conns); n > 0 {
			active[id] = n
		}
		state.mu.Unlock()
	}
	return active
}
