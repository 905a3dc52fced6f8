// Package storage opens uploaded invoice documents by the path recorded on
// their batch file row.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const minioScheme = "minio://"

var (
	ErrRemoteNotConfigured = errors.New("object storage is not configured")
	ErrPathOutsideRoot     = errors.New("path escapes the upload directory")
)

// Store opens a stored document for reading.
type Store interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// IsRemote reports whether path points into object storage.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, minioScheme)
}

// ParseMinioPath splits minio://bucket/object/key into its bucket and object.
func ParseMinioPath(path string) (bucket, object string, err error) {
	if !IsRemote(path) {
		return "", "", fmt.Errorf("invalid MinIO file path: %s", path)
	}
	rest := strings.TrimPrefix(path, minioScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	object = strings.TrimLeft(object, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid MinIO file path: %s", path)
	}
	return bucket, object, nil
}

// LocalStore reads files from disk. Relative paths resolve against Root, and
// when Root is set no path may point outside it.
type LocalStore struct {
	Root string
}

// Resolve returns the on-disk path for path.
func (s LocalStore) Resolve(path string) (string, error) {
	if s.Root == "" {
		return path, nil
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upload directory: %w", err)
	}

	full := filepath.Clean(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return full, nil
}

func (s LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Router sends minio:// paths to the remote store and everything else to
// the local one.
type Router struct {
	local  LocalStore
	remote Store
}

// NewRouter builds a Router. remote may be nil when object storage is not
// configured.
func NewRouter(local LocalStore, remote Store) *Router {
	return &Router{local: local, remote: remote}
}

func (r *Router) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if IsRemote(path) {
		if r.remote == nil {
			return nil, fmt.Errorf("%w: %s", ErrRemoteNotConfigured, path)
		}
		return r.remote.Open(ctx, path)
	}
	return r.local.Open(ctx, path)
}

// LocalPath returns the on-disk path for a local document, or false for a
// remote one or one outside the upload directory.
func (r *Router) LocalPath(path string) (string, bool) {
	if IsRemote(path) {
		return "", false
	}
	full, err := r.local.Resolve(path)
	if err != nil {
		return "", false
	}
	return full, true
}

// ValidatePath reports whether Open could serve path: a well-formed object
// path with object storage configured, or a local path inside the upload
// directory.
func (r *Router) ValidatePath(path string) error {
	if IsRemote(path) {
		if r.remote == nil {
			return fmt.Errorf("%w: %s", ErrRemoteNotConfigured, path)
		}
		_, _, err := ParseMinioPath(path)
		return err
	}
	_, err := r.local.Resolve(path)
	return err
}
