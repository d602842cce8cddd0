// Package blobstore provides the core.BlobStore implementations used for uploaded file bytes:
// an S3 compatible object store, a local directory, and a typed unavailable store.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/target/docflow/internal/core"
)

var (
	// ErrStorageUnavailable is returned by every call on an Unavailable store.
	ErrStorageUnavailable = errors.New("blob storage is not configured")
	// ErrSignedURLUnsupported is returned by stores that cannot mint download URLs.
	// Callers fall back to Download.
	ErrSignedURLUnsupported = errors.New("blob store cannot sign URLs")
	// ErrInvalidLocator is returned for empty or escaping locators.
	ErrInvalidLocator = errors.New("invalid blob locator")
)

const maxStemLength = 200

var (
	reservedChars = regexp.MustCompile(`[~<>:"|?*\s]`)
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
)

// SanitizeFilename makes filename safe to use as an object key segment. The stem has
// reserved characters and whitespace replaced with '_', then anything outside
// [A-Za-z0-9_.-], and is capped at 200 characters. The extension is kept.
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	stem = reservedChars.ReplaceAllString(stem, "_")
	stem = unsafeChars.ReplaceAllString(stem, "_")
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	ext = unsafeChars.ReplaceAllString(ext, "_")
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

// Locator returns the object key for a file of a job.
func Locator(jobID, filename string) string {
	return jobID + "/" + SanitizeFilename(filename)
}

// IsURL reports whether s is a fully qualified http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// cleanLocator rejects locators that are empty or would escape the store root.
func cleanLocator(locator string) (string, error) {
	l := strings.TrimPrefix(strings.TrimSpace(locator), "/")
	if l == "" {
		return "", ErrInvalidLocator
	}
	cleaned := path.Clean(l)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return cleaned, nil
}

// Fetcher downloads http(s) URLs. Both stores use it for URL locators.
type Fetcher struct {
	Client *http.Client
}

// DefaultFetchTimeout bounds a single URL download.
const DefaultFetchTimeout = 60 * time.Second

// Fetch GETs url and returns the body. Non-2xx responses are errors carrying the status
// code so transient gateway failures are recognisable.
func (f Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redactURL(url), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s: HTTP %d %s", redactURL(url), resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	return body, nil
}

// redactURL drops the query string so signatures never reach the logs.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// Unavailable is the store used when no blob backend is configured. Every call fails
// with ErrStorageUnavailable.
type Unavailable struct{}

func (Unavailable) Upload(context.Context, string, string, []byte) (string, error) {
	return "", ErrStorageUnavailable
}

func (Unavailable) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrStorageUnavailable
}

// Download still serves http(s) URLs; only store locators are unavailable.
func (Unavailable) Download(ctx context.Context, locatorOrURL string) ([]byte, error) {
	if IsURL(locatorOrURL) {
		return Fetcher{}.Fetch(ctx, locatorOrURL)
	}
	return nil, ErrStorageUnavailable
}

func (Unavailable) Delete(context.Context, string) error {
	return ErrStorageUnavailable
}

var _ core.BlobStore = Unavailable{}
