// Package store holds content-addressed asset blobs. Every backend
// verifies bytes against their id on both write and read, so a
// corrupted blob can never circulate.
package store

import (
	"context"

	"spadina.network/internal/asset"
)

// Store is a content-addressed blob store. Put is idempotent:
// storing an asset that already exists is a no-op.
type Store interface {
	// Put stores a blob under its id. The id is recomputed from the
	// bytes; a mismatch is refused with asset.ErrMismatch.
	Put(ctx context.Context, id asset.ID, data []byte) error
	// Get fetches a blob, returning asset.ErrMissing when absent.
	Get(ctx context.Context, id asset.ID) ([]byte, error)
	// Exists reports presence without fetching.
	Exists(ctx context.Context, id asset.ID) (bool, error)
	// List calls fn for every stored id until fn returns false or the
	// listing is exhausted.
	List(ctx context.Context, fn func(asset.ID) bool) error
}

func checkPut(id asset.ID, data []byte) error {
	if !id.Valid() {
		return asset.ErrMismatch
	}
	return id.Verify(data)
}
