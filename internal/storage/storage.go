package storage

import (
	"context"
	"io"
)

// StoredBlob describes a persisted upload.
type StoredBlob struct {
	Name         string // generated, collision-resistant
	OriginalName string
	URL          string // public path/URL the blob is served under
	Size         int64
}

// Store persists uploaded image blobs addressed by generated name.
// Delete is idempotent: removing a blob that no longer exists is not an error.
type Store interface {
	Save(ctx context.Context, originalName string, r io.Reader) (StoredBlob, error)
	Delete(ctx context.Context, storedName string) error
}
