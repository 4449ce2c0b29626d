// Package mediacache is a content-addressed store for downloaded media.
// Entries are keyed by a short hash of the source URL alone, so identical
// media referenced from different feeds collapses to one stored blob.
// A failed download leaves a permanent failure marker that suppresses all
// future attempts for that key until an operator deletes the marker.
package mediacache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedglue/feedglue/app/database"
)

// knownExtensions limits what we trust from a URL path when the server
// does not send a usable content type.
var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".mp4": true, ".webm": true,
	".ogg": true, ".mp3": true, ".wav": true,
}

type Store struct {
	repo       database.CacheRepository
	httpClient *http.Client
	mediaDir   string
	userAgent  string
	timeout    time.Duration
	parallel   int

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

func NewStore(repo database.CacheRepository, httpClient *http.Client, dataDir, userAgent string, timeout time.Duration, parallel int) (*Store, error) {
	mediaDir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	if parallel < 1 {
		parallel = 1
	}

	return &Store{
		repo:       repo,
		httpClient: httpClient,
		mediaDir:   mediaDir,
		userAgent:  userAgent,
		timeout:    timeout,
		parallel:   parallel,
		inflight:   make(map[string]*sync.Mutex),
	}, nil
}

// HashURL returns the cache key for a URL: 16 hex characters of its
// sha256, filesystem- and URL-safe.
func HashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

// MediaDir returns the directory blobs are stored under.
func (s *Store) MediaDir() string {
	return s.mediaDir
}

// Resolve returns a stable local reference for a remote media URL.
//
// The operation is idempotent and monotone: a stored blob is returned
// without a network call; a failure marker returns the original URL
// without a network call; only an unseen key triggers a download. A
// failed download persists a marker so the key is never retried.
func (s *Store) Resolve(ctx context.Context, rawURL string) string {
	urlHash := HashURL(rawURL)

	unlock := s.lockKey(urlHash)
	defer unlock()

	entry, err := s.repo.Get(urlHash)
	if err != nil {
		slog.Error("Media cache lookup failed", "url", rawURL, "error", err)
		return rawURL
	}

	if entry != nil {
		if entry.Failed {
			return rawURL
		}
		return s.localRef(entry)
	}

	entry, err = s.download(ctx, rawURL, urlHash)
	if err != nil {
		// Caller cancellation (client disconnect, shutdown) says nothing
		// about the URL itself; persist no marker so a later resolve with
		// a live context can still download.
		if ctx.Err() != nil {
			slog.Debug("Media download aborted", "url", rawURL, "hash", urlHash, "error", err)
			return rawURL
		}

		slog.Warn("Media download failed", "url", rawURL, "hash", urlHash, "error", err)
		now := time.Now().UTC()
		marker := database.CacheEntry{
			URLHash:   urlHash,
			URL:       rawURL,
			Failed:    true,
			Error:     err.Error(),
			FailedAt:  &now,
			CreatedAt: now,
		}
		if putErr := s.repo.Put(marker); putErr != nil {
			slog.Error("Failed to persist failure marker", "url", rawURL, "error", putErr)
		}
		return rawURL
	}

	if err := s.repo.Put(*entry); err != nil {
		slog.Error("Failed to persist cache entry", "url", rawURL, "error", err)
		return rawURL
	}

	slog.Debug("Media cached", "url", rawURL, "hash", urlHash, "content_type", entry.ContentType)
	return s.localRef(entry)
}

// PrefetchAll resolves a set of URLs with bounded parallelism. Individual
// failures become failure markers, never errors; the only error returned
// is context cancellation.
func (s *Store) PrefetchAll(ctx context.Context, urls []string) error {
	seen := make(map[string]bool, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.Resolve(ctx, u)
			return nil
		})
	}

	return g.Wait()
}

// Forget deletes an entry and its blob, making the key eligible for a
// fresh download attempt. This is the only way a failure marker goes away.
func (s *Store) Forget(urlHash string) error {
	unlock := s.lockKey(urlHash)
	defer unlock()

	entry, err := s.repo.Get(urlHash)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	if !entry.Failed {
		blobPath := filepath.Join(s.mediaDir, urlHash+entry.Extension)
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove blob: %w", err)
		}
	}

	return s.repo.Delete(urlHash)
}

// Stats reports stored blob and failure marker counts.
func (s *Store) Stats() (int, int, error) {
	return s.repo.Stats()
}

func (s *Store) download(ctx context.Context, rawURL, urlHash string) (*database.CacheEntry, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	ext := inferExtension(contentType, rawURL)

	// Stage the body into a temp file and rename on success, so a
	// partial download is never promoted to a committed blob.
	tmp, err := os.CreateTemp(s.mediaDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to stage download: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}

	blobPath := filepath.Join(s.mediaDir, urlHash+ext)
	if err := os.Rename(tmp.Name(), blobPath); err != nil {
		return nil, fmt.Errorf("failed to commit blob: %w", err)
	}

	return &database.CacheEntry{
		URLHash:     urlHash,
		URL:         rawURL,
		ContentType: contentType,
		Extension:   ext,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Store) localRef(entry *database.CacheEntry) string {
	return "media/" + entry.URLHash + entry.Extension
}

// lockKey serializes work per cache key so two concurrent resolves of the
// same URL cannot race a download against a marker write.
func (s *Store) lockKey(urlHash string) func() {
	s.mu.Lock()
	keyMu, ok := s.inflight[urlHash]
	if !ok {
		keyMu = &sync.Mutex{}
		s.inflight[urlHash] = keyMu
	}
	s.mu.Unlock()

	keyMu.Lock()
	return keyMu.Unlock
}

func inferExtension(contentType, rawURL string) string {
	if contentType != "" {
		base := strings.TrimSpace(strings.Split(contentType, ";")[0])
		if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
			// mime returns multiple candidates; prefer a conventional one
			// when present.
			for _, e := range exts {
				if knownExtensions[e] {
					return e
				}
			}
			return exts[0]
		}
	}

	if parsed, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if knownExtensions[ext] {
			return ext
		}
	}

	return ""
}
