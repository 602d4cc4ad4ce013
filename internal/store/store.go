package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store is the durable room record store. One row per room, keyed by the
// normalized room code, with the last checkpointed drawing data as a JSON
// array. Upserts and deletes are independent single-statement operations,
// so no coordination with the live session layer is needed.
type Store struct {
	db *sql.DB
}

type Room struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	DrawingData  []byte // JSON array of drawing commands
}

// HasDrawingData reports whether the last checkpoint contained any commands.
func (r *Room) HasDrawingData() bool {
	return r.CommandCount() > 0
}

// CommandCount returns the number of commands in the last checkpoint.
func (r *Room) CommandCount() int {
	if len(r.DrawingData) == 0 {
		return 0
	}
	var cmds []json.RawMessage
	if err := json.Unmarshal(r.DrawingData, &cmds); err != nil {
		return 0
	}
	return len(cmds)
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
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

	log.Info().Str("path", dbPath).Msg("store initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_activity DATETIME DEFAULT CURRENT_TIMESTAMP,
		drawing_data TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_last_activity ON rooms(last_activity);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetRoom returns the room record, or nil if no such room exists.
func (s *Store) GetRoom(id string) (*Room, error) {
	row := s.db.QueryRow(
		"SELECT room_id, created_at, last_activity, drawing_data FROM rooms WHERE room_id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.CreatedAt, &room.LastActivity, &room.DrawingData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom inserts a room record if none exists yet. It reports whether a
// row was actually inserted, so two racing create-if-absent callers resolve
// at the database rather than with a separate existence check.
func (s *Store) CreateRoom(id string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		"INSERT OR IGNORE INTO rooms (room_id, created_at, last_activity) VALUES (?, ?, ?)",
		id, now, now,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SaveDrawing upserts the drawing checkpoint for a room and bumps
// last_activity. The room row is recreated if the reaper removed it while a
// live session was still active.
func (s *Store) SaveDrawing(id string, drawingData []byte, lastActivity time.Time) error {
	if len(drawingData) == 0 {
		drawingData = []byte("[]")
	}
	_, err := s.db.Exec(`
		INSERT INTO rooms (room_id, drawing_data, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			drawing_data = excluded.drawing_data,
			last_activity = excluded.last_activity
	`, id, drawingData, lastActivity.UTC())
	return err
}

// Touch bumps a room's last_activity to now. Timestamps are always bound
// from Go so the column stays in one format and range scans compare
// correctly.
func (s *Store) Touch(id string) error {
	_, err := s.db.Exec(
		"UPDATE rooms SET last_activity = ? WHERE room_id = ?",
		time.Now().UTC(), id,
	)
	return err
}

// DeleteInactiveBefore removes every room whose last_activity is older than
// the cutoff and returns how many were deleted.
func (s *Store) DeleteInactiveBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM rooms WHERE last_activity < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (s *Store) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	return stats, nil
}
