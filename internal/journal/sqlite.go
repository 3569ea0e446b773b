package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/filedrop/filedrop/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    modified_at TEXT NOT NULL,
    detected_at TEXT NOT NULL,
    synced INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_unsynced ON events(synced) WHERE synced = 0;
`

// SQLiteStore is a Store backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, ev types.FileEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, name, size, modified_at, detected_at) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Type), ev.Name, ev.Size,
		ev.ModifiedAt.UTC().Format(time.RFC3339Nano),
		ev.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]types.FileEvent, error) {
	return s.query(ctx,
		`SELECT id, type, name, size, modified_at, detected_at FROM events ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) Unsynced(ctx context.Context, limit int) ([]types.FileEvent, error) {
	return s.query(ctx,
		`SELECT id, type, name, size, modified_at, detected_at FROM events WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
}

// MarkSynced marks the given event IDs as synced.
func (s *SQLiteStore) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]types.FileEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []types.FileEvent{}
	for rows.Next() {
		var (
			e                  types.FileEvent
			typ                string
			modified, detected string
		)
		if err := rows.Scan(&e.ID, &typ, &e.Name, &e.Size, &modified, &detected); err != nil {
			return nil, err
		}
		e.Type = types.EventType(typ)
		e.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modified)
		e.DetectedAt, _ = time.Parse(time.RFC3339Nano, detected)
		events = append(events, e)
	}
	return events, rows.Err()
}
