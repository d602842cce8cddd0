package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/target/docflow/internal/core"
	apperrors "github.com/target/docflow/internal/errors"
)

// LocalStore keeps file bytes in a directory on the local filesystem. It suits single node
// deployments where the API and worker share a disk.
type LocalStore struct {
	root    string
	fetcher Fetcher
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string, fetcher Fetcher) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: abs, fetcher: fetcher}, nil
}

// Root returns the absolute directory backing the store.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(locator string) (string, error) {
	key, err := cleanLocator(locator)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Upload(_ context.Context, jobID, filename string, data []byte) (string, error) {
	key := Locator(jobID, filename)
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("commit blob %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStore) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrSignedURLUnsupported
}

func (s *LocalStore) Download(ctx context.Context, locatorOrURL string) ([]byte, error) {
	if IsURL(locatorOrURL) {
		return s.fetcher.Fetch(ctx, locatorOrURL)
	}
	p, err := s.path(locatorOrURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFoundf("blob %s not found", locatorOrURL)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", locatorOrURL, err)
	}
	return data, nil
}

// Delete removes the blob and, when it was the last file of its job, the job directory.
func (s *LocalStore) Delete(_ context.Context, locator string) error {
	p, err := s.path(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", locator, err)
	}
	if dir := filepath.Dir(p); dir != s.root {
		_ = os.Remove(dir) // fails while other files remain
	}
	return nil
}

var _ core.BlobStore = (*LocalStore)(nil)
