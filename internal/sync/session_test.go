package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/pairpad/server/internal/registry"
	"github.com/pairpad/server/internal/store"
	"github.com/pairpad/server/internal/store/memory"
)

// Simulates a connected client for testing
type mockConn struct {
	id   string
	send chan []byte
}

func newMockConn(id string) *mockConn {
	return &mockConn{
		id:   id,
		send: make(chan []byte, 256),
	}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Enqueue(data []byte) bool {
	select {
	case m.send <- data:
		return true
	default:
		return false
	}
}

func (m *mockConn) Close() {}

func (m *mockConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-m.send:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to decode message %q: %v", data, err)
		}
		return msg
	default:
		t.Fatal("Expected a message, got none")
		return nil
	}
}

func (m *mockConn) empty() bool {
	select {
	case <-m.send:
		return false
	default:
		return true
	}
}

func setup(t *testing.T) (*registry.Registry, *memory.Store) {
	t.Helper()
	docs := memory.New()
	return registry.New(docs), docs
}

func TestJoinUnknownRoomClosesSession(t *testing.T) {
	reg, _ := setup(t)

	conn := newMockConn("a")
	session := NewSession(reg, conn, "missing")

	err := session.Join(context.Background())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("Expected Closed state, got %d", session.State())
	}
	if !conn.empty() {
		t.Error("No messages should be sent on a failed join")
	}
}

func TestJoinSendsInitialStateToNewConnectionOnly(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")
	docs.Save(ctx, "room-1", "existing")

	a := newMockConn("a")
	sessionA := NewSession(reg, a, "room-1")
	if err := sessionA.Join(ctx); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	msg := a.next(t)
	if msg["type"] != TypeInitialState {
		t.Errorf("Expected initial_state, got %v", msg["type"])
	}
	if msg["code"] != "existing" {
		t.Errorf("Expected code 'existing', got %v", msg["code"])
	}
	if msg["roomId"] != "room-1" {
		t.Errorf("Expected roomId 'room-1', got %v", msg["roomId"])
	}

	b := newMockConn("b")
	sessionB := NewSession(reg, b, "room-1")
	if err := sessionB.Join(ctx); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	b.next(t) // b's own initial state

	if !a.empty() {
		t.Error("Existing connection should not receive another initial state")
	}
}

func TestMalformedJSONKeepsSessionOpen(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")

	conn := newMockConn("a")
	session := NewSession(reg, conn, "room-1")
	session.Join(ctx)
	conn.next(t) // initial state

	session.Handle(ctx, []byte("{not json"))

	msg := conn.next(t)
	if msg["type"] != TypeError {
		t.Errorf("Expected error message, got %v", msg["type"])
	}
	if session.State() != StateJoined {
		t.Errorf("Session should stay joined, got state %d", session.State())
	}

	code, err := docs.Load(ctx, "room-1")
	if err != nil || code != "" {
		t.Errorf("Room text should be unchanged, got '%s' (%v)", code, err)
	}
}

func TestMissingCodeFieldIsRejected(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")
	docs.Save(ctx, "room-1", "before")

	conn := newMockConn("a")
	session := NewSession(reg, conn, "room-1")
	session.Join(ctx)
	conn.next(t)

	session.Handle(ctx, []byte(`{"type":"code_update","timestamp":100}`))

	msg := conn.next(t)
	if msg["type"] != TypeError {
		t.Errorf("Expected error message, got %v", msg["type"])
	}

	code, _ := docs.Load(ctx, "room-1")
	if code != "before" {
		t.Errorf("Room text should be unchanged, got '%s'", code)
	}
}

func TestUnknownMessageType(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")

	conn := newMockConn("a")
	session := NewSession(reg, conn, "room-1")
	session.Join(ctx)
	conn.next(t)

	session.Handle(ctx, []byte(`{"type":"presence"}`))

	msg := conn.next(t)
	if msg["type"] != TypeError {
		t.Errorf("Expected error message, got %v", msg["type"])
	}
	if session.State() != StateJoined {
		t.Errorf("Session should stay joined, got state %d", session.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")

	conn := newMockConn("a")
	session := NewSession(reg, conn, "room-1")
	session.Join(ctx)

	session.Close()
	session.Close()

	if session.State() != StateClosed {
		t.Errorf("Expected Closed state, got %d", session.State())
	}
	if reg.RoomCount() != 0 {
		t.Errorf("Expected room to be released, got %d rooms", reg.RoomCount())
	}
}

func TestMessagesIgnoredAfterClose(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "room-1")

	conn := newMockConn("a")
	session := NewSession(reg, conn, "room-1")
	session.Join(ctx)
	conn.next(t)
	session.Close()

	session.Handle(ctx, []byte(`{"type":"code_update","code":"late","timestamp":1}`))

	if !conn.empty() {
		t.Error("Closed session should not answer messages")
	}
	code, _ := docs.Load(ctx, "room-1")
	if code != "" {
		t.Errorf("Closed session should not mutate the room, got '%s'", code)
	}
}

// failingSaveStore breaks every Save to exercise the best-effort
// persistence policy.
type failingSaveStore struct {
	*memory.Store
}

func (f *failingSaveStore) Save(ctx context.Context, roomID, code string) error {
	return fmt.Errorf("disk on fire")
}

func TestSaveFailureDoesNotBlockBroadcast(t *testing.T) {
	docs := &failingSaveStore{memory.New()}
	reg := registry.New(docs)
	ctx := context.Background()

	docs.Store.Create(ctx, "room-1")

	a := newMockConn("a")
	b := newMockConn("b")
	sessionA := NewSession(reg, a, "room-1")
	sessionB := NewSession(reg, b, "room-1")
	sessionA.Join(ctx)
	sessionB.Join(ctx)
	a.next(t)
	b.next(t)

	sessionA.Handle(ctx, []byte(`{"type":"code_update","code":"volatile","timestamp":1}`))

	msg := b.next(t)
	if msg["type"] != TypeCodeUpdate || msg["code"] != "volatile" {
		t.Errorf("Peer should receive the update despite save failure, got %v", msg)
	}
	if !a.empty() {
		t.Error("Sender should not receive an error for a persistence failure")
	}
	if code, ok := reg.Code("room-1"); !ok || code != "volatile" {
		t.Errorf("In-memory text should remain authoritative, got '%s'", code)
	}
}

// Walks the full protocol: create, two joins, two updates where the
// lower client timestamp arrives later and still wins.
func TestFullSessionScenario(t *testing.T) {
	reg, docs := setup(t)
	ctx := context.Background()

	docs.Create(ctx, "abc123xy")

	a := newMockConn("a")
	b := newMockConn("b")
	sessionA := NewSession(reg, a, "abc123xy")
	sessionB := NewSession(reg, b, "abc123xy")

	if err := sessionA.Join(ctx); err != nil {
		t.Fatalf("A join failed: %v", err)
	}
	initA := a.next(t)
	if initA["type"] != TypeInitialState || initA["code"] != "" || initA["roomId"] != "abc123xy" {
		t.Errorf("Unexpected initial state for A: %v", initA)
	}

	if err := sessionB.Join(ctx); err != nil {
		t.Fatalf("B join failed: %v", err)
	}
	initB := b.next(t)
	if initB["code"] != "" || initB["roomId"] != "abc123xy" {
		t.Errorf("Unexpected initial state for B: %v", initB)
	}

	sessionA.Handle(ctx, []byte(`{"type":"code_update","code":"print(1)","timestamp":100}`))

	update := b.next(t)
	if update["type"] != TypeCodeUpdate || update["code"] != "print(1)" || update["timestamp"] != float64(100) {
		t.Errorf("Unexpected update at B: %v", update)
	}
	if !a.empty() {
		t.Error("A should not receive its own update")
	}

	// Lower timestamp, sent later: arrival order wins.
	sessionB.Handle(ctx, []byte(`{"type":"code_update","code":"print(2)","timestamp":50}`))

	update = a.next(t)
	if update["code"] != "print(2)" || update["timestamp"] != float64(50) {
		t.Errorf("Unexpected update at A: %v", update)
	}

	stored, err := docs.Load(ctx, "abc123xy")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored != "print(2)" {
		t.Errorf("Expected stored text 'print(2)', got '%s'", stored)
	}
}
