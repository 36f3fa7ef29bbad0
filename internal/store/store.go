package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that the requested room has no document.
var ErrNotFound = errors.New("room not found")

// ErrExists indicates a room id collision on creation.
var ErrExists = errors.New("room already exists")

// Room is the persisted record for one collaboration session.
type Room struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is one saved version of a room's text.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Label     string    `json:"label"`
	Code      string    `json:"code,omitempty"`
	CodeHash  string    `json:"code_hash"`
	Auto      bool      `json:"auto"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes what a backend holds.
type Stats struct {
	Rooms          int64 `json:"rooms"`
	HistoryEntries int64 `json:"history_entries"`
}

// DocumentStore is the durable mapping from room id to current text.
type DocumentStore interface {
	// Load returns the current text for a room, or ErrNotFound.
	Load(ctx context.Context, roomID string) (string, error)

	// Save replaces the room's text. Returns ErrNotFound if the room
	// was never created.
	Save(ctx context.Context, roomID, code string) error

	// Create writes an empty document for a new room id. Returns
	// ErrExists on collision; never overwrites.
	Create(ctx context.Context, roomID string) error

	Get(ctx context.Context, roomID string) (*Room, error)
	List(ctx context.Context, limit, offset int) ([]Room, error)
	Delete(ctx context.Context, roomID string) error

	Close() error
}

// StatsStore is an optional capability of a DocumentStore backend.
type StatsStore interface {
	Stats(ctx context.Context) (*Stats, error)
}

// HistoryStore is an optional capability of a DocumentStore backend.
// Handlers probe for it with a type assertion.
type HistoryStore interface {
	AddHistory(ctx context.Context, roomID, label, code, codeHash string, auto bool) (*HistoryEntry, error)
	GetHistory(ctx context.Context, id int64) (*HistoryEntry, error)

	// ListHistory returns entries newest first with Code elided.
	ListHistory(ctx context.Context, roomID string, limit, offset int) ([]HistoryEntry, error)

	// LatestHistory returns the newest entry, or nil if the room has none.
	LatestHistory(ctx context.Context, roomID string) (*HistoryEntry, error)

	DeleteHistory(ctx context.Context, id int64) error

	// PruneAutoHistory removes auto-saved entries beyond the most
	// recent keep.
	PruneAutoHistory(ctx context.Context, roomID string, keep int) error
}
