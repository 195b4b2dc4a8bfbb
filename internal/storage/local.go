package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore writes blobs into a single flat directory on disk, served as
// static content under publicPath.
type LocalStore struct {
	dir        string
	publicPath string
}

// NewLocalStore ensures dir exists and returns a store serving blobs under
// publicPath (e.g. "/uploads").
func NewLocalStore(dir, publicPath string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("uploads dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStore{
		dir:        dir,
		publicPath: "/" + strings.Trim(publicPath, "/"),
	}, nil
}

func (s *LocalStore) Save(ctx context.Context, originalName string, r io.Reader) (StoredBlob, error) {
	if err := ctx.Err(); err != nil {
		return StoredBlob{}, err
	}

	name := generateName(originalName)
	target := filepath.Join(s.dir, name)

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredBlob{}, fmt.Errorf("create blob %s: %w", name, err)
	}

	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return StoredBlob{}, fmt.Errorf("write blob %s: %w", name, err)
	}

	return StoredBlob{
		Name:         name,
		OriginalName: originalName,
		URL:          path.Join(s.publicPath, name),
		Size:         written,
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, storedName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.Base(storedName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid blob name %q", storedName)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}

// Dir returns the directory blobs are written to.
func (s *LocalStore) Dir() string { return s.dir }

// PublicPath returns the URL prefix blobs are served under.
func (s *LocalStore) PublicPath() string { return s.publicPath }

// generateName builds a collision-resistant stored filename keeping the
// original name visible: {unix-ms}-{uuid fragment}-{original base name}.
func generateName(originalName string) string {
	base := filepath.Base(strings.TrimSpace(originalName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "file"
	}
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], base)
}

var _ Store = (*LocalStore)(nil)
