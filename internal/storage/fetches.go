package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/popflow/internal/common"
	"github.com/Veraticus/popflow/internal/model"
)

// GetFetch returns the manifest entry for url, or common.ErrNotFound.
func (s *SQLiteStorage) GetFetch(ctx context.Context, url string) (*model.FetchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(url, "url"); err != nil {
		return nil, err
	}

	var rec model.FetchRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT url, path, sha256, size, etag, last_modified, fetched_at
		FROM fetches
		WHERE url = ?`, url).Scan(
		&rec.URL, &rec.Path, &rec.SHA256, &rec.Size, &rec.ETag, &rec.LastModified, &rec.FetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch %s: %w", url, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch record: %w", err)
	}
	return &rec, nil
}

// SaveFetch inserts or replaces the manifest entry for rec.URL.
func (s *SQLiteStorage) SaveFetch(ctx context.Context, rec *model.FetchRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFetch(rec); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetches (url, path, sha256, size, etag, last_modified, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			path = excluded.path,
			sha256 = excluded.sha256,
			size = excluded.size,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			fetched_at = excluded.fetched_at`,
		rec.URL, rec.Path, rec.SHA256, rec.Size, rec.ETag, rec.LastModified, rec.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save fetch record: %w", err)
	}
	return nil
}

// DeleteFetch removes the manifest entry for url. Deleting a missing entry is not an error.
func (s *SQLiteStorage) DeleteFetch(ctx context.Context, url string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(url, "url"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM fetches WHERE url = ?`, url); err != nil {
		return fmt.Errorf("failed to delete fetch record: %w", err)
	}
	return nil
}

// ListFetches returns every manifest entry ordered by url.
func (s *SQLiteStorage) ListFetches(ctx context.Context) ([]model.FetchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, path, sha256, size, etag, last_modified, fetched_at
		FROM fetches
		ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.FetchRecord
	for rows.Next() {
		var rec model.FetchRecord
		if err := rows.Scan(&rec.URL, &rec.Path, &rec.SHA256, &rec.Size, &rec.ETag, &rec.LastModified, &rec.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetch record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fetch records: %w", err)
	}
	return records, nil
}
