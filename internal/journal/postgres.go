package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filedrop/filedrop/pkg/types"
)

// PostgresStore is a Store backed by a shared PostgreSQL database, used when
// several filedrop instances report into one history.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a PostgresStore with a connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the events table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS file_events (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			modified_at TIMESTAMPTZ NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			synced BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS idx_file_events_unsynced ON file_events(id) WHERE NOT synced;
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, ev types.FileEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO file_events (type, name, size, modified_at, detected_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		string(ev.Type), ev.Name, ev.Size, ev.ModifiedAt, ev.DetectedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]types.FileEvent, error) {
	return s.query(ctx,
		`SELECT id, type, name, size, modified_at, detected_at FROM file_events ORDER BY id DESC LIMIT $1`, limit)
}

func (s *PostgresStore) Unsynced(ctx context.Context, limit int) ([]types.FileEvent, error) {
	return s.query(ctx,
		`SELECT id, type, name, size, modified_at, detected_at FROM file_events WHERE NOT synced ORDER BY id ASC LIMIT $1`, limit)
}

func (s *PostgresStore) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE file_events SET synced = true WHERE id = ANY($1)`, ids)
	return err
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]types.FileEvent, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.FileEvent, error) {
		var (
			e   types.FileEvent
			typ string
		)
		err := row.Scan(&e.ID, &typ, &e.Name, &e.Size, &e.ModifiedAt, &e.DetectedAt)
		e.Type = types.EventType(typ)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []types.FileEvent{}
	}
	return events, nil
}
