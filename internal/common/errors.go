// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Pipeline error kinds. Every typed error below matches one of these via errors.Is.
	ErrNetwork    = errors.New("network error")
	ErrParse      = errors.New("parse error")
	ErrFileSystem = errors.New("file system error")

	// Cache errors.
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NetworkError reports a remote endpoint that was unreachable or answered
// with a non-success status. StatusCode is zero when no response arrived.
type NetworkError struct {
	Err        error
	URL        string
	StatusCode int
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: unexpected status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNetwork) match any NetworkError.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// ParseError reports malformed source data. Line is 1-based and zero when the
// position is unknown; Column names the offending field when there is one.
type ParseError struct {
	Err    error
	Source string
	Column string
	Line   int
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Source
	if e.Line > 0 {
		msg += fmt.Sprintf(" line %d", e.Line)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// FileSystemError reports a local read or write that failed.
type FileSystemError struct {
	Err  error
	Op   string
	Path string
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFileSystem) match any FileSystemError.
func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// NewFileSystemError wraps err with the operation and path that failed.
func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
