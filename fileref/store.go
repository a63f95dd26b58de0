package fileref

import (
	"context"
	"errors"
)

var (
	errNilService = errors.New("fileref: file service is required")
	errNilStore   = errors.New("fileref: store is required")
)

// Entry is one resolved reference in display state.
type Entry struct {
	FileID   string `json:"file_id"`
	URL      string `json:"url"`
	Revision uint64 `json:"revision"`
}

// Store holds resolved display state keyed by file ID. Implementations must
// be safe for concurrent use; see the memory and redis subpackages.
type Store interface {
	// Get returns the stored entry for fileID, or nil if absent.
	Get(ctx context.Context, fileID string) (*Entry, error)

	// PutIfNewer stores e unless an entry with an equal or higher revision
	// already exists for the same file ID. Reports whether e was stored.
	// This is the last-write-wins guard: a stale resolution must never
	// overwrite a newer one.
	PutIfNewer(ctx context.Context, e Entry) (bool, error)

	// Close releases resources held by the store.
	Close() error
}
