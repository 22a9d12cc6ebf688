// Package common defines shared constants and sentinel errors used across
// the skysync engine layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Cipher / envelope errors. All of these are fatal and never retried.
	ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")
	ErrCorruptEnvelope      = errors.New("corrupt encryption envelope")

	// ErrIncompatibleVersion is returned when a reader meets an envelope
	// format version it is declared incompatible with (a version 3 reader
	// given a version 2 envelope). It is distinct from ErrCorruptEnvelope:
	// the header parsed fine, the format is just a dead end.
	ErrIncompatibleVersion = errors.New("incompatible envelope format version")

	// Hash-link errors.
	ErrMalformedHashLink = errors.New("malformed hash link")

	// Transfer errors.
	ErrChunkExhausted   = errors.New("chunk retries exhausted")
	ErrChecksumMismatch = errors.New("checksum mismatch after transfer")
	ErrTaskCancelled    = errors.New("task cancelled")

	// Remote errors. Quota and permission failures are fatal, no retry.
	ErrNotFound         = errors.New("not found")
	ErrQuotaExceeded    = errors.New("remote quota exceeded")
	ErrPermissionDenied = errors.New("remote permission denied")
)
