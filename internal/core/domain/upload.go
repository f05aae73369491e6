package domain

import (
	"path/filepath"
	"time"
)

// Backend names. Every circuit breaker, retry profile, and ledger row is
// keyed by one of these strings; two logical backends never share a breaker.
const (
	BackendDrive       = "google_drive"
	BackendAIWaverider = "aiwaverider"
)

// FileType distinguishes the two kinds of files the pipeline uploads.
type FileType string

const (
	FileVideo     FileType = "video"
	FileThumbnail FileType = "thumbnail"
)

// UploadStatus is the per-backend upload state of a file.
type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadCompleted UploadStatus = "COMPLETED"
	UploadFailed    UploadStatus = "FAILED"
)

// FileUploadCandidate identifies a local file that may need uploading.
// LogicalID is stable across renames (e.g. the extracted video id).
type FileUploadCandidate struct {
	LogicalID string
	FileType  FileType
	LocalPath string
}

// Filename returns the base name of the candidate's local path.
func (c FileUploadCandidate) Filename() string {
	return filepath.Base(c.LocalPath)
}

// Key returns the ledger key for this candidate on the given backend.
func (c FileUploadCandidate) Key(backend string) LedgerKey {
	return LedgerKey{LogicalID: c.LogicalID, FileType: c.FileType, Backend: backend}
}

// LedgerKey uniquely identifies a ledger entry.
type LedgerKey struct {
	LogicalID string
	FileType  FileType
	Backend   string
}

// LedgerEntry records the upload state of one file on one backend. A
// COMPLETED entry whose ContentHash no longer matches the on-disk file is
// stale and forces a re-upload.
type LedgerEntry struct {
	LogicalID     string
	FileType      FileType
	Backend       string
	LocalPath     string
	ContentHash   string
	RemoteID      string
	RemoteURL     string
	Status        UploadStatus
	AttemptCount  int
	LastAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key returns the entry's ledger key.
func (e *LedgerEntry) Key() LedgerKey {
	return LedgerKey{LogicalID: e.LogicalID, FileType: e.FileType, Backend: e.Backend}
}

// RemoteFile is a file as reported by a backend listing or upload response.
type RemoteFile struct {
	ID          string
	Name        string
	URL         string
	Description string
}
