package fetch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Veraticus/popflow/internal/common"
)

// MirrorResult summarizes one Mirror call.
type MirrorResult struct {
	Listed     []string
	Downloaded []string
	Cached     []string
	Removed    []string
}

// Mirror makes dir an exact copy of the files linked from the directory index
// at dirURL. Files are visited in name order. Local files that are no longer
// listed are deleted along with their manifest entries; hidden files are left
// alone. The first failed download aborts the mirror.
func (d *Downloader) Mirror(ctx context.Context, dirURL, dir string) (*MirrorResult, error) {
	if err := d.wait(ctx); err != nil {
		return nil, &common.NetworkError{URL: dirURL, Err: err}
	}
	files, err := d.client.List(ctx, dirURL)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &MirrorResult{Listed: names}
	for _, name := range names {
		dl, err := d.Download(ctx, files[name], filepath.Join(dir, name))
		if err != nil {
			return result, err
		}
		if dl.FromCache || dl.Revalidated {
			result.Cached = append(result.Cached, name)
		} else {
			result.Downloaded = append(result.Downloaded, name)
		}
	}

	removed, err := d.prune(ctx, dir, files)
	result.Removed = removed
	if err != nil {
		return result, err
	}

	slog.Info("Mirrored directory",
		"url", dirURL,
		"dir", dir,
		"listed", len(result.Listed),
		"downloaded", len(result.Downloaded),
		"cached", len(result.Cached),
		"removed", len(result.Removed))
	return result, nil
}

func (d *Downloader) prune(ctx context.Context, dir string, keep map[string]string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, common.NewFileSystemError("read dir", dir, err)
	}

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, common.NewFileSystemError("remove", path, err)
		}
		removed = append(removed, name)
		slog.Info("Removed file no longer listed upstream", "path", path)
	}

	if d.manifest != nil {
		d.forget(ctx, dir, keep)
	}
	return removed, nil
}

// forget drops manifest entries for files under dir whose URL is no longer listed.
func (d *Downloader) forget(ctx context.Context, dir string, keep map[string]string) {
	records, err := d.manifest.ListFetches(ctx)
	if err != nil {
		slog.Warn("Failed to list fetch manifest", "error", err)
		return
	}

	listed := make(map[string]struct{}, len(keep))
	for _, u := range keep {
		listed[u] = struct{}{}
	}

	for _, rec := range records {
		if filepath.Dir(rec.Path) != filepath.Clean(dir) {
			continue
		}
		if _, ok := listed[rec.URL]; ok {
			continue
		}
		if err := d.manifest.DeleteFetch(ctx, rec.URL); err != nil {
			slog.Warn("Failed to delete fetch manifest entry", "url", rec.URL, "error", err)
		}
	}
}
