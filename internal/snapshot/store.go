// Package snapshot stores exported table archives in a local directory or an
// S3-compatible bucket.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tablesync/internal/config"
)

// Common errors for snapshot storage operations.
var (
	ErrObjectNotFound = errors.New("snapshot not found")
	ErrUploadFailed   = errors.New("snapshot upload failed")
	ErrDownloadFailed = errors.New("snapshot download failed")
	ErrDeleteFailed   = errors.New("snapshot delete failed")
)

// Object describes one stored snapshot.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"bytes"`
	LastModified time.Time `json:"lastModified"`
}

// Store abstracts object storage for snapshot archives.
type Store interface {
	// Upload copies the file at localPath to key.
	Upload(ctx context.Context, localPath, key string) error

	// Download copies key to localPath. Missing keys yield ErrObjectNotFound.
	Download(ctx context.Context, key, localPath string) error

	// List returns objects under prefix, newest first.
	List(ctx context.Context, prefix string) ([]Object, error)

	Delete(ctx context.Context, key string) error
}

// New builds the store selected by cfg. It returns nil, nil when snapshots
// are disabled.
func New(ctx context.Context, cfg config.SnapshotConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", config.SnapshotNone:
		return nil, nil
	case config.SnapshotLocal:
		store, err := NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SnapshotS3:
		store, err := NewS3Store(ctx, cfg.S3Bucket, S3Options{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// NewKey returns a fresh snapshot key of the form
// {prefix}/{yyyyMMdd-HHmmss}-{uuid}.zip.
func NewKey(prefix string, now time.Time) string {
	name := now.UTC().Format("20060102-150405") + "-" + uuid.NewString() + ".zip"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ValidKey reports whether key is a clean relative path under prefix ending
// in .zip. Keys come from clients on restore, so anything that could escape
// the store root is refused.
func ValidKey(prefix, key string) bool {
	if key == "" || strings.ContainsAny(key, `\`) || path.IsAbs(key) {
		return false
	}
	if path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return false
	}
	if !strings.HasSuffix(strings.ToLower(key), ".zip") {
		return false
	}
	prefix = strings.Trim(prefix, "/")
	return prefix == "" || strings.HasPrefix(key, prefix+"/")
}
