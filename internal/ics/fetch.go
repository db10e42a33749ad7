// Package ics reads calendar feeds directly from ICS URLs, expands their
// recurrences and serves them as raw calendar events.
package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const fetchTimeout = 15 * time.Second

// Feed is one configured ICS subscription.
type Feed struct {
	ID  string `yaml:"id" mapstructure:"id"`
	URL string `yaml:"url" mapstructure:"url"`
}

// FetchResult is the body of a feed and whether it came from the cache.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

// cacheMeta holds the HTTP validators stored next to a cached body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds using conditional requests. With a cache directory
// the last body is kept on disk and served when the feed is unreachable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	logger   *zap.Logger
}

// NewFetcher creates a fetcher. An empty cacheDir disables the disk cache.
func NewFetcher(cacheDir string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: fetchTimeout},
		cacheDir: cacheDir,
		logger:   logger.Named("ics"),
	}
}

// FetchOne downloads a single feed, honoring ETag and Last-Modified.
func (f *Fetcher) FetchOne(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, fmt.Errorf("feed %s has no url", feed.ID)
	}

	var (
		dir    string
		meta   cacheMeta
		cached []byte
	)
	if f.cacheDir != "" {
		dir = f.cachePath(feed.URL)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return FetchResult{}, fmt.Errorf("failed to create cache dir: %w", err)
		}
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to create request for feed %s: %w", feed.ID, err)
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			f.logger.Warn("Feed unreachable, using cached body",
				zap.String("feed", feed.ID),
				zap.String("url", redactURL(feed.URL)),
				zap.Error(err))
			return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("failed to fetch feed %s: %w", feed.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("failed to read feed %s: %w", feed.ID, err)
		}

		if dir != "" {
			newMeta := cacheMeta{
				URL:          feed.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, newMeta, body); err != nil {
				f.logger.Warn("Failed to cache feed", zap.String("feed", feed.ID), zap.Error(err))
			}
		}

		f.logger.Debug("Fetched feed",
			zap.String("feed", feed.ID),
			zap.Int("bytes", len(body)))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, fmt.Errorf("feed %s: not modified but nothing cached", feed.ID)
		}
		f.logger.Debug("Feed not modified", zap.String("feed", feed.ID))
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil

	default:
		if len(cached) > 0 {
			f.logger.Warn("Feed returned an error, using cached body",
				zap.String("feed", feed.ID),
				zap.Int("status", resp.StatusCode))
			return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("feed %s: %s", feed.ID, resp.Status)
	}
}

// cachePath is a per-URL directory named after the URL hash.
func (f *Fetcher) cachePath(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so the validators never
// describe a body that is not on disk.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed paths often carry private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
