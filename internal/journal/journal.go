// Package journal persists watcher events so they can be listed through the
// history API and forwarded to other systems at least once.
package journal

import (
	"context"
	"fmt"

	"github.com/filedrop/filedrop/pkg/types"
)

// Store is an append-only log of file events with a per-row synced flag.
type Store interface {
	// Append records ev and returns its assigned ID.
	Append(ctx context.Context, ev types.FileEvent) (int64, error)
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]types.FileEvent, error)
	// Unsynced returns up to limit events not yet marked synced, oldest first.
	Unsynced(ctx context.Context, limit int) ([]types.FileEvent, error)
	// MarkSynced flags the given event IDs as delivered.
	MarkSynced(ctx context.Context, ids []int64) error
	Close() error
}

// Open returns a PostgreSQL store when databaseURL is set, otherwise a SQLite
// store at path. It returns (nil, nil) when neither is configured.
func Open(ctx context.Context, path, databaseURL string) (Store, error) {
	switch {
	case databaseURL != "":
		s, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to migrate journal: %w", err)
		}
		return s, nil
	case path != "":
		return OpenSQLite(path)
	default:
		return nil, nil
	}
}

// Sink appends every watcher event to a Store.
type Sink struct {
	store Store
}

// NewSink wraps store as a watcher sink.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string { return "journal" }

func (s *Sink) Handle(ctx context.Context, ev types.FileEvent) error {
	_, err := s.store.Append(ctx, ev)
	return err
}
