package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/adforge-backend/internal/platform/gcp"
)

// ObjectStore persists a rendered artifact and returns where it can be fetched.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// BucketStore stores artifacts in GCS.
type BucketStore struct {
	Bucket gcp.BucketService
}

func (s BucketStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if s.Bucket == nil {
		return "", fmt.Errorf("bucket not configured")
	}
	if err := s.Bucket.UploadFile(ctx, key, body, contentType); err != nil {
		return "", err
	}
	return s.Bucket.GetPublicURL(key), nil
}

// DirStore writes artifacts under Dir. BaseURL, when set, is the public prefix
// the directory is served from.
type DirStore struct {
	Dir     string
	BaseURL string
}

func (s DirStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		return "", fmt.Errorf("output dir not configured")
	}
	clean := filepath.Clean("/" + key)
	full := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close output file: %w", err)
	}
	if base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/"); base != "" {
		return base + filepath.ToSlash(clean), nil
	}
	return "file://" + filepath.ToSlash(full), nil
}
