// Package artifacts manages the files and text snippets attached to a
// session: metadata, fixed-window expiry, and byte/count quotas. Artifact
// bytes live behind the BlobStore interface so transports never hold a
// session lock across disk I/O.
package artifacts

import (
	"context"
	"errors"
	"io"
	"time"
)

// Kind distinguishes uploaded files from pasted text snippets.
type Kind string

const (
	KindFile Kind = "file"
	KindText Kind = "text"
)

var (
	// ErrFileTooLarge means a single artifact exceeds the per-file cap.
	ErrFileTooLarge = errors.New("artifact exceeds per-file size limit")
	// ErrStorageFull means the artifact would push the session past its
	// total storage cap.
	ErrStorageFull = errors.New("session storage limit exceeded")
	// ErrTooManyFiles means the session already holds the maximum number of
	// active artifacts.
	ErrTooManyFiles = errors.New("session file count limit exceeded")
	// ErrNotFound means the named artifact is absent or expired.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName means the artifact name is empty or unusable.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Artifact is the metadata record for one stored file or text snippet.
// ExpiresAt is fixed at creation and never recomputed; an artifact past
// ExpiresAt is logically absent even before it is physically purged.
type Artifact struct {
	ID        string
	Name      string
	Kind      Kind
	SizeBytes int64
	CreatedAt time.Time
	ExpiresAt time.Time

	// BlobKey addresses the artifact's bytes within the BlobStore. Distinct
	// per artifact instance, so same-name re-uploads never collide.
	BlobKey string
}

// ListEntry annotates an Artifact with the time remaining until expiry at
// the moment List was called.
type ListEntry struct {
	Artifact
	Remaining time.Duration
}

// BlobStore stores artifact bytes keyed by (session code, blob key). It is
// the external storage collaborator: implementations must be safe for
// concurrent use and must tolerate removal of keys that no longer exist.
type BlobStore interface {
	// Write streams r into the blob, refusing to store more than limit
	// bytes (limit <= 0 means unlimited). On overflow the partial blob is
	// discarded and ErrBlobTooLarge returned.
	Write(ctx context.Context, code, key string, r io.Reader, limit int64) (int64, error)

	// Open returns a reader over the blob's bytes.
	Open(ctx context.Context, code, key string) (io.ReadCloser, error)

	// Remove deletes one blob. Removing an absent blob is not an error.
	Remove(ctx context.Context, code, key string) error

	// RemoveAll deletes every blob belonging to the session.
	RemoveAll(ctx context.Context, code string) error
}

// ErrBlobTooLarge is returned by BlobStore.Write when the reader produces
// more than the requested limit.
var ErrBlobTooLarge = errors.New("blob exceeds size limit")
