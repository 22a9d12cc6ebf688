// Package remote abstracts the object store that transfers run against.
//
// The engine core never talks to a vendor API directly: it sees only the
// Backend interface (ranged reads, chunked upload sessions, listing,
// fingerprint registration). The S3 implementation is the concrete backend;
// the in-memory implementation backs tests and dry runs.
package remote

import (
	"context"
	"io"
	"time"

	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

// FileInfo describes one remote file.
type FileInfo struct {
	Path       string
	Size       int64
	ModTime    time.Time
	ContentMD5 string // remote fingerprint when the store knows it, else ""
}

// Backend is the remote endpoint surface consumed by the transfer engine.
//
// Implementations map these operations onto their store; errors are
// normalized to the common sentinels (ErrNotFound, ErrPermissionDenied,
// ErrQuotaExceeded) so the scheduler can tell transient failures from
// fatal ones.
type Backend interface {
	// Stat returns metadata for path, or common.ErrNotFound.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// List returns all files under prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Delete removes the given remote paths.
	Delete(ctx context.Context, paths ...string) error

	// ReadRange streams length bytes of path starting at offset.
	// length < 0 means "to the end".
	ReadRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error)

	// CreateUpload opens a chunked upload session for path. A non-nil
	// fingerprint lets the backend index the content for later instant
	// registration.
	CreateUpload(ctx context.Context, path string, size int64, fp *fingerprint.Fingerprint) (Upload, error)

	// ResumeUpload reattaches to a previously created upload session so
	// a restarted task can keep its already-transferred chunks.
	ResumeUpload(ctx context.Context, path, id string) (Upload, error)

	// Register creates path from content the store already holds,
	// identified by fingerprint, without transferring bytes. Returns
	// common.ErrNotFound when the content is unknown to the store.
	Register(ctx context.Context, fp *fingerprint.Fingerprint, path string) error

	// ChunkSizeBounds returns the smallest and largest chunk size the
	// store accepts for a non-final chunk. A zero min means no lower
	// bound.
	ChunkSizeBounds() (min, max int64)
}

// Upload is one chunked upload session. Chunks may be sent concurrently;
// Complete must be called only after every chunk succeeded.
type Upload interface {
	// ID identifies the session for resume across restarts.
	ID() string

	// UploadChunk sends one chunk. index is zero-based and determines
	// the chunk's position in the assembled object.
	UploadChunk(ctx context.Context, index int, offset int64, r io.Reader, size int64) error

	// Complete assembles the object from the uploaded chunks.
	Complete(ctx context.Context) error

	// Abort discards the session and any uploaded chunks.
	Abort(ctx context.Context) error
}
