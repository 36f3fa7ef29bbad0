package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/pairpad/server/internal/store"
)

// Store persists room documents and history in a single sqlite file.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	logrus.WithField("path", dbPath).Info("sqlite store initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		label TEXT NOT NULL,
		code TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_history_room_id ON history(room_id);
	CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(room_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Document operations

func (s *Store) Load(ctx context.Context, roomID string) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		"SELECT code FROM rooms WHERE id = ?", roomID,
	).Scan(&code)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Store) Save(ctx context.Context, roomID, code string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		code, roomID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Create(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, code) VALUES (?, '')", roomID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, roomID string) (*store.Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, created_at, updated_at FROM rooms WHERE id = ?", roomID,
	)

	var room store.Room
	err := row.Scan(&room.ID, &room.Code, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]store.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []store.Room
	for rows.Next() {
		var room store.Room
		if err := rows.Scan(&room.ID, &room.Code, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *Store) Delete(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID)
	return err
}

// History operations

func (s *Store) AddHistory(ctx context.Context, roomID, label, code, codeHash string, auto bool) (*store.HistoryEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (room_id, label, code, code_hash, is_auto)
		VALUES (?, ?, ?, ?, ?)
	`, roomID, label, code, codeHash, auto)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetHistory(ctx, id)
}

func (s *Store) GetHistory(ctx context.Context, id int64) (*store.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, label, code, code_hash, is_auto, created_at
		FROM history WHERE id = ?
	`, id)

	var e store.HistoryEntry
	err := row.Scan(&e.ID, &e.RoomID, &e.Label, &e.Code, &e.CodeHash, &e.Auto, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListHistory(ctx context.Context, roomID string, limit, offset int) ([]store.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, label, code_hash, is_auto, created_at
		FROM history
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.HistoryEntry
	for rows.Next() {
		var e store.HistoryEntry
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Label, &e.CodeHash, &e.Auto, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LatestHistory(ctx context.Context, roomID string) (*store.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, label, code, code_hash, is_auto, created_at
		FROM history
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, roomID)

	var e store.HistoryEntry
	err := row.Scan(&e.ID, &e.RoomID, &e.Label, &e.Code, &e.CodeHash, &e.Auto, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteHistory(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE id = ?", id)
	return err
}

func (s *Store) PruneAutoHistory(ctx context.Context, roomID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM history
		WHERE room_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM history
			WHERE room_id = ? AND is_auto = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	return err
}

// Stats

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	var st store.Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&st.Rooms); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&st.HistoryEntries); err != nil {
		return nil, err
	}
	return &st, nil
}

var _ store.DocumentStore = (*Store)(nil)
var _ store.HistoryStore = (*Store)(nil)
