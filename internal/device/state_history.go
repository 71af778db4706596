package device

import (
	"context"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Snapshot history source values.
const (
	HistorySourcePoll  = "poll"
	HistorySourceWrite = "write"
)

// HistoryEntry is one recorded snapshot.
//
// Each entry stores the full snapshot so recent device behaviour can be
// inspected even when the time-series database is unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// EntryID is the paired device the snapshot belongs to.
	EntryID string `json:"entry_id"`

	Snapshot boneco.Snapshot `json:"snapshot"`

	// Source identifies what produced the snapshot (poll, write).
	Source string `json:"source"`

	// CreatedAt is the time the snapshot was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves snapshot history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordSnapshot records a published snapshot.
	RecordSnapshot(ctx context.Context, entryID string, snapshot boneco.Snapshot, source string) error

	// GetHistory returns recent snapshots for the entry, newest first.
	// The implementation may clamp limit.
	GetHistory(ctx context.Context, entryID string, limit int) ([]HistoryEntry, error)

	// PruneHistory deletes snapshots older than olderThan and returns the
	// number removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
