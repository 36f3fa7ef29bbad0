package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/store"
)

// Store keeps room documents in process memory. Used for tests and for
// running without a database.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*store.Room
}

func New() *Store {
	return &Store{
		rooms: make(map[string]*store.Room),
	}
}

func (s *Store) Load(ctx context.Context, roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return "", store.ErrNotFound
	}
	return room.Code, nil
}

func (s *Store) Save(ctx context.Context, roomID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.Code = code
	room.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Create(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; ok {
		return store.ErrExists
	}

	now := time.Now()
	s.rooms[roomID] = &store.Room{
		ID:        roomID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	logrus.WithField("room_id", roomID).Debug("room created in memory store")
	return nil
}

func (s *Store) Get(ctx context.Context, roomID string) (*store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}

	copied := *room
	return &copied, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]store.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, *room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	if offset >= len(rooms) {
		return nil, nil
	}
	rooms = rooms[offset:]
	if limit < len(rooms) {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *Store) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &store.Stats{Rooms: int64(len(s.rooms))}, nil
}

func (s *Store) Close() error {
	return nil
}

var _ store.DocumentStore = (*Store)(nil)
var _ store.StatsStore = (*Store)(nil)
