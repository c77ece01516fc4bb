package model

import "time"

// FetchRecord describes a remote file downloaded into the local data folder.
type FetchRecord struct {
	FetchedAt    time.Time
	URL          string
	Path         string
	SHA256       string
	ETag         string
	LastModified string
	Size         int64
}

// Validators reports whether the record carries anything a conditional GET can use.
func (r *FetchRecord) Validators() bool {
	return r.ETag != "" || r.LastModified != ""
}
