package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filedrop/filedrop/pkg/types"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "journal", "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func event(typ types.EventType, name string, size int64) types.FileEvent {
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	return types.FileEvent{Type: typ, Name: name, Size: size, ModifiedAt: now, DetectedAt: now.Add(time.Second)}
}

func TestSQLiteStore_AppendAndRecent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	for _, ev := range []types.FileEvent{
		event(types.EventAdded, "a.txt", 10),
		event(types.EventModified, "a.txt", 11),
		event(types.EventRemoved, "a.txt", 11),
	} {
		if _, err := s.Append(ctx, ev); err != nil {
			t.Fatalf("Append() returned error: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != types.EventRemoved || got[1].Type != types.EventModified {
		t.Errorf("expected newest first, got %s then %s", got[0].Type, got[1].Type)
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("expected descending IDs, got %d then %d", got[0].ID, got[1].ID)
	}
	want := event(types.EventRemoved, "a.txt", 11)
	if !got[0].ModifiedAt.Equal(want.ModifiedAt) || !got[0].DetectedAt.Equal(want.DetectedAt) {
		t.Errorf("expected timestamps to round-trip, got %v / %v", got[0].ModifiedAt, got[0].DetectedAt)
	}
	if got[0].Size != 11 || got[0].Name != "a.txt" {
		t.Errorf("unexpected event %+v", got[0])
	}
}

func TestSQLiteStore_RecentEmpty(t *testing.T) {
	s := openTestSQLite(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestSQLiteStore_UnsyncedAndMarkSynced(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"one", "two", "three"} {
		id, err := s.Append(ctx, event(types.EventAdded, name, 1))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	pending, err := s.Unsynced(ctx, 10)
	if err != nil {
		t.Fatalf("Unsynced() returned error: %v", err)
	}
	if len(pending) != 3 || pending[0].Name != "one" {
		t.Fatalf("expected 3 pending events oldest first, got %+v", pending)
	}

	if err := s.MarkSynced(ctx, ids[:2]); err != nil {
		t.Fatalf("MarkSynced() returned error: %v", err)
	}

	pending, err = s.Unsynced(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Errorf("expected only the third event pending, got %+v", pending)
	}

	if err := s.MarkSynced(ctx, nil); err != nil {
		t.Errorf("MarkSynced(nil) returned error: %v", err)
	}
}

func TestSink_AppendsEvents(t *testing.T) {
	s := openTestSQLite(t)
	sink := NewSink(s)

	if sink.Name() != "journal" {
		t.Errorf("expected sink name journal, got %s", sink.Name())
	}
	if err := sink.Handle(context.Background(), event(types.EventAdded, "x", 3)); err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Errorf("expected journaled event, got %+v", got)
	}
}

func TestOpen_NothingConfigured(t *testing.T) {
	s, err := Open(context.Background(), "", "")
	if err != nil || s != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", s, err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("FILEDROP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FILEDROP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, "", url)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	defer store.Close()

	id, err := store.Append(ctx, event(types.EventAdded, "pg.txt", 7))
	if err != nil {
		t.Fatalf("Append() returned error: %v", err)
	}
	if err := store.MarkSynced(ctx, []int64{id}); err != nil {
		t.Fatalf("MarkSynced() returned error: %v", err)
	}
	recent, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != id {
		t.Errorf("expected most recent event %d, got %+v", id, recent)
	}
}
