package store

import (
	"context"
	"encoding/json"
)

// Store is the key-value document interface the attendance data lives
// behind. The remote primary and the local cache both implement it.
type Store interface {
	// Get reads the raw JSON document at path. An absent document
	// returns (nil, nil).
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set replaces the document at path.
	Set(ctx context.Context, path string, value any) error
	// Append adds value under a generated key below path and returns
	// the key.
	Append(ctx context.Context, path string, value any) (string, error)
}
