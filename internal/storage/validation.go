// Package storage provides the download manifest used to cache fetched files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/popflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidFetch    = errors.New("invalid fetch record")
	ErrNegativeSize    = errors.New("size cannot be negative")
	ErrMissingChecksum = errors.New("checksum is required")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateFetch checks the fields the manifest relies on.
func validateFetch(rec *model.FetchRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: fetch record", ErrNilParameter)
	}
	if err := validateString(rec.URL, "url"); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFetch, err)
	}
	if err := validateString(rec.Path, "path"); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFetch, err)
	}
	if rec.SHA256 == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFetch, ErrMissingChecksum)
	}
	if rec.Size < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidFetch, ErrNegativeSize)
	}
	if rec.FetchedAt.IsZero() {
		return fmt.Errorf("%w: fetched_at is required", ErrInvalidFetch)
	}
	return nil
}
