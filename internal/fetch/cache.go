package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

// Manifest records what has been downloaded. *storage.SQLiteStorage satisfies it.
type Manifest interface {
	GetFetch(ctx context.Context, url string) (*model.FetchRecord, error)
	SaveFetch(ctx context.Context, rec *model.FetchRecord) error
	DeleteFetch(ctx context.Context, url string) error
	ListFetches(ctx context.Context) ([]model.FetchRecord, error)
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	// Manifest is optional; without one every Download hits the network.
	Manifest Manifest
	// Limiter paces network requests; nil means unlimited.
	Limiter *rate.Limiter
	// Now overrides the clock in tests.
	Now func() time.Time
	// MaxAge is how long a manifest entry is trusted without asking the server.
	MaxAge time.Duration
	// Refresh ignores the manifest and always downloads.
	Refresh bool
}

// Downloader saves remote files under the data folder.
type Downloader struct {
	client   *Client
	manifest Manifest
	limiter  *rate.Limiter
	now      func() time.Time
	maxAge   time.Duration
	refresh  bool
}

// Download is the outcome of fetching one file.
type Download struct {
	Path   string
	SHA256 string
	Body   []byte
	// FromCache is set when the local copy was used without a request.
	FromCache bool
	// Revalidated is set when the server confirmed the local copy with 304.
	Revalidated bool
}

// NewLimiter returns a limiter allowing requestsPerMinute requests with a
// burst of one, or nil when requestsPerMinute is not positive.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}

// NewDownloader creates a downloader on top of client.
func NewDownloader(client *Client, opts DownloaderOptions) *Downloader {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Downloader{
		client:   client,
		manifest: opts.Manifest,
		limiter:  opts.Limiter,
		now:      now,
		maxAge:   opts.MaxAge,
		refresh:  opts.Refresh,
	}
}

// Download stores the body of url at path and returns it. The file is
// replaced atomically, so a failed download leaves any previous copy intact.
func (d *Downloader) Download(ctx context.Context, url, path string) (*Download, error) {
	prev, local := d.cached(ctx, url, path)

	if prev != nil && local != nil && d.maxAge > 0 && d.now().Sub(prev.FetchedAt) < d.maxAge {
		slog.Debug("Using cached file", "url", url, "path", path, "fetched_at", prev.FetchedAt)
		return &Download{Path: path, SHA256: prev.SHA256, Body: local, FromCache: true}, nil
	}

	var cond Conditional
	if prev != nil && local != nil && prev.Validators() {
		cond = Conditional{ETag: prev.ETag, LastModified: prev.LastModified}
	}

	if err := d.wait(ctx); err != nil {
		return nil, &common.NetworkError{URL: url, Err: err}
	}
	resp, err := d.client.Get(ctx, url, cond)
	if err != nil {
		return nil, err
	}

	if resp.NotModified {
		if local == nil {
			return nil, &common.NetworkError{URL: url, StatusCode: resp.StatusCode, Err: errors.New("not modified but no local copy")}
		}
		rec := *prev
		rec.FetchedAt = d.now()
		if resp.ETag != "" {
			rec.ETag = resp.ETag
		}
		if resp.LastModified != "" {
			rec.LastModified = resp.LastModified
		}
		d.record(ctx, &rec)
		slog.Debug("Server confirmed cached file", "url", url, "path", path)
		return &Download{Path: path, SHA256: prev.SHA256, Body: local, Revalidated: true}, nil
	}

	if err := common.WriteFileAtomic(path, resp.Body, 0o644); err != nil {
		return nil, err
	}

	sum := checksum(resp.Body)
	d.record(ctx, &model.FetchRecord{
		URL:          url,
		Path:         path,
		SHA256:       sum,
		Size:         int64(len(resp.Body)),
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		FetchedAt:    d.now(),
	})
	slog.Info("Downloaded file", "url", url, "path", path, "bytes", len(resp.Body))

	return &Download{Path: path, SHA256: sum, Body: resp.Body}, nil
}

// cached returns the manifest entry and file contents when both exist and the
// file still matches the recorded checksum.
func (d *Downloader) cached(ctx context.Context, url, path string) (*model.FetchRecord, []byte) {
	if d.manifest == nil || d.refresh {
		return nil, nil
	}

	rec, err := d.manifest.GetFetch(ctx, url)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			slog.Warn("Failed to read fetch manifest", "url", url, "error", err)
		}
		return nil, nil
	}
	if rec.Path != path {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rec, nil
	}
	if checksum(data) != rec.SHA256 {
		slog.Debug("Cached file changed on disk", "path", path)
		return rec, nil
	}
	return rec, data
}

func (d *Downloader) record(ctx context.Context, rec *model.FetchRecord) {
	if d.manifest == nil {
		return
	}
	if err := d.manifest.SaveFetch(ctx, rec); err != nil {
		slog.Warn("Failed to update fetch manifest", "url", rec.URL, "error", err)
	}
}

func (d *Downloader) wait(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
