// Package document implements the staging engine for review documents:
// pending uploads, deletes, renames and type changes queued client-side and
// reconciled against a remote store that is only eventually consistent.
package document

import (
	"errors"
	"fmt"
	"time"
)

// Document is one committed file in the remote store.
type Document struct {
	ID           string
	ScopeID      string
	Name         string
	DocumentType string
	SizeBytes    int64
	UploadedBy   string
	UploadedAt   time.Time
}

// UploadStatus is the per-file progress state while committing uploads.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadInFlight  UploadStatus = "uploading"
	UploadSucceeded UploadStatus = "success"
	UploadFailed    UploadStatus = "error"
	UploadSkipped   UploadStatus = "skipped"
)

// FileInput is the client-supplied file to stage.
type FileInput struct {
	Name    string
	Content []byte
}

// StagedUpload tracks one staged file through the upload progress machine.
// Failed entries stay retryable until the retry bound is exhausted; after
// that only SkipUpload or re-staging clears them.
type StagedUpload struct {
	ID           string
	Name         string
	Content      []byte
	DocumentType string
	UploadedBy   string
	Status       UploadStatus
	Attempts     int
	LastError    string
}

// UploadProgress is the snapshot reported to CommitUploads observers.
type UploadProgress struct {
	StagedID string
	Name     string
	Status   UploadStatus
	Attempts int
	Err      string
}

var (
	// ErrRetryExhausted signals the per-file retry bound was hit; the entry is
	// terminal and needs operator action (skip or re-stage).
	ErrRetryExhausted = errors.New("document: upload retries exhausted")
	// ErrStagedNotFound signals an unknown staged upload id.
	ErrStagedNotFound = errors.New("document: staged upload not found")
	// ErrNotRetryable signals a retry on an entry that has not failed.
	ErrNotRetryable = errors.New("document: staged upload is not in an error state")
	// ErrDocumentNotFound signals an unknown committed document reference.
	ErrDocumentNotFound = errors.New("document: not found")
)

// RemoteError wraps a remote-store failure with enough context to retry the
// operation. Previously loaded documents remain available (stale) after one.
type RemoteError struct {
	Op      string
	ScopeID string
	Err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("document: %s for scope %s: %v", e.Op, e.ScopeID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
