package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrUnavailable indicates a transport or availability fault. Callers
	// surface it; nothing in this package retries automatically.
	ErrUnavailable = errors.New("store: unavailable")
)

// Record is the schemaless document shape persisted per collection entry.
type Record map[string]any

// Entry pairs a document id with its decoded record for ordered queries.
type Entry struct {
	ID     string
	Record Record
}

// Store is the document persistence collaborator. Implementations must keep
// Query ordering stable under the backing engine's native collation.
type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Set(ctx context.Context, collection, id string, record Record) error
	Update(ctx context.Context, collection, id string, patch Record) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection, orderBy string) ([]Entry, error)
}
