package types

import "time"

// FileInfo describes one file in the shared directory as returned by /api/files.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"` // RFC 3339
	SHA256   string `json:"sha256"`
}

// EventType classifies a file lifecycle change.
type EventType string

const (
	EventAdded    EventType = "added"
	EventRemoved  EventType = "removed"
	EventModified EventType = "modified"
)

// FileEvent is emitted by the background watcher for every detected change.
type FileEvent struct {
	ID         int64     `json:"id,omitempty"`
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
	DetectedAt time.Time `json:"detected_at"`
}
