package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of upload failure classes. Callers branch on
// the kind instead of matching error strings.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection resets, and 429/5xx
	// responses. Eligible for retry with backoff.
	KindTransient ErrorKind = iota
	// KindCircuitOpen means the breaker rejected the call before it was
	// attempted. No retry budget was consumed.
	KindCircuitOpen
	// KindPermanent covers malformed payloads, missing credentials, missing
	// files, and 4xx responses. Never retried.
	KindPermanent
	// KindChunkProtocol covers violations of the chunked upload protocol,
	// e.g. the file changing size mid-upload.
	KindChunkProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindPermanent:
		return "permanent"
	case KindChunkProtocol:
		return "chunk_protocol"
	default:
		return "unknown"
	}
}

// UploadError tags an underlying error with its kind and origin.
type UploadError struct {
	Kind    ErrorKind
	Backend string
	Op      string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(backend, op string, err error) error {
	return &UploadError{Kind: KindTransient, Backend: backend, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(backend, op string, err error) error {
	return &UploadError{Kind: KindPermanent, Backend: backend, Op: op, Err: err}
}

// ChunkProtocol wraps err as a chunked upload protocol violation.
func ChunkProtocol(backend, op string, err error) error {
	return &UploadError{Kind: KindChunkProtocol, Backend: backend, Op: op, Err: err}
}

// KindOf extracts the error kind, if err carries one.
func KindOf(err error) (ErrorKind, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindPermanent || k == KindChunkProtocol)
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCircuitOpen
}
