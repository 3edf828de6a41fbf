package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	appLog "meetcal/internal/log"
)

// Getter retrieves the raw payload of a calendar feed.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned for non-OK HTTP responses without a cached body.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "unexpected HTTP status: " + e.Status
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// StaleError accompanies a previously cached body returned because the
// live fetch failed. Callers that accept stale data must still treat the
// fetch as failed.
type StaleError struct {
	Err error
}

func (e *StaleError) Error() string {
	return "serving cached copy: " + e.Err.Error()
}

func (e *StaleError) Unwrap() error {
	return e.Err
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTPGetter fetches ICS feeds with HTTP caching (ETag / Last-Modified) and
// a disk-backed body cache. Transient failures are retried with exponential
// backoff until the caller's context ends.
type HTTPGetter struct {
	client   *resty.Client
	cacheDir string

	// Retries is the number of additional attempts after a transient failure.
	Retries int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// NewHTTPGetter creates a new HTTPGetter.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. An empty cacheDir disables the disk cache.
func NewHTTPGetter(cacheDir string, retries int) *HTTPGetter {
	c := resty.New().
		SetHeader("Accept", "text/calendar, */*;q=0.5").
		SetHeader("User-Agent", "meetcal/1")

	return &HTTPGetter{
		client:         c,
		cacheDir:       cacheDir,
		Retries:        retries,
		InitialBackoff: 200 * time.Millisecond,
	}
}

// Get fetches a single ICS URL, honoring ETag and Last-Modified. When the
// fetch fails and a cached body exists, Get returns that body together with
// a *StaleError.
func (g *HTTPGetter) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("source URL is empty")
	}
	url := normalizeURL(rawURL)

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if g.cacheDir != "" {
		cachePath = g.cachePathForURL(url)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = loadCacheBody(cachePath)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.InitialBackoff
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Second
	exp.Reset()

	retries := g.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	var body []byte
	op := func() error {
		b, err := g.attempt(ctx, url, meta, cachedBody, cachePath)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		appLog.Debug("ics fetch retry", "url", redactURL(url), "err", err.Error(), "wait", wait)
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return body, nil
	}

	// Never hand back stale data once the caller has given up.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(cachedBody) > 0 {
		appLog.Error("ics fetch failed, using cached body", err, "url", redactURL(url))
		return cachedBody, &StaleError{Err: err}
	}
	return nil, err
}

func (g *HTTPGetter) attempt(ctx context.Context, url string, meta cacheEntry, cachedBody []byte, cachePath string) ([]byte, error) {
	req := g.client.R().SetContext(ctx)

	// Conditional headers only make sense when we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.SetHeader("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.SetHeader("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(url))

	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Body()
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header().Get("ETag"),
				LastModified: resp.Header().Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "url", redactURL(url))
			}
		}
		appLog.Debug("ics fetch success", "url", redactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, backoff.Permanent(errors.New("received 304 Not Modified but no cached body available"))
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(url))
		return cachedBody, nil

	default:
		serr := &StatusError{Code: resp.StatusCode(), Status: resp.Status()}
		if serr.retryable() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
}

func (g *HTTPGetter) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(g.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := writeFileAtomic(filepath.Join(cachePath, "body.ics"), body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(cachePath, "meta.json"), data); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path via a temp file in the same directory, so
// concurrent readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// normalizeURL maps webcal:// subscriptions onto https.
func normalizeURL(u string) string {
	if rest, ok := strings.CutPrefix(u, "webcal://"); ok {
		return "https://" + rest
	}
	return u
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	i += 3

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
