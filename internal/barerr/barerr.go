// Package barerr defines the error taxonomy the archive core distinguishes
// (section 7): configuration, source, archive, codec,
// storage, index, and lifecycle errors. Callers classify an error with
// Classify to decide whether it is fatal, retryable, or per-entry only.
package barerr

import (
	"errors"
	"fmt"
)

// Kind groups sentinel errors into the categories the worker pool and
// retry policy reason about.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindSource
	KindArchive
	KindCodec
	KindStorage
	KindIndex
	KindLifecycle
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSource:
		return "source"
	case KindArchive:
		return "archive"
	case KindCodec:
		return "codec"
	case KindStorage:
		return "storage"
	case KindIndex:
		return "index"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Configuration errors — fatal at job start.
var (
	ErrInvalidPattern      = errors.New("invalid include/exclude pattern")
	ErrMissingPassword     = errors.New("encryption requested but no password source configured")
	ErrUnsupportedAlgorithm = errors.New("unsupported compression or encryption algorithm")
)

// Source errors — per-entry; counted into error entries unless strict.
var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrReadFailed        = errors.New("read failed")
)

// Archive errors — fatal to the reader on read; a bug (aborts the job) on write.
var (
	ErrCorruptArchive       = errors.New("corrupt archive")
	ErrUnknownChunk         = errors.New("unknown chunk type")
	ErrUnverifiedSignature  = errors.New("unverified archive signature")
	ErrCrcMismatch          = errors.New("chunk CRC mismatch")
	ErrChunkDepthExceeded   = errors.New("chunk nesting depth exceeded")
)

// Codec errors — fatal to the current entry; job continues unless strict or repeated.
var (
	ErrCompressFailure    = errors.New("compression failed")
	ErrDecompressFailure  = errors.New("decompression failed")
	ErrDecryptAuthFailure = errors.New("decryption authentication failed")
)

// Storage errors — subject to the retry policy.
var (
	ErrNotReachable  = errors.New("storage not reachable")
	ErrAuthFailed    = errors.New("storage authentication failed")
	ErrQuota         = errors.New("storage quota exceeded")
	ErrNotMounted    = errors.New("storage not mounted")
	ErrConflict      = errors.New("storage object conflict")
	ErrSizeUnavailable = errors.New("handle size unavailable and sizes are required")
)

// Index errors — fatal.
var (
	ErrSchemaMismatch    = errors.New("index schema version mismatch")
	ErrBusy              = errors.New("index busy")
	ErrIntegrityViolation = errors.New("index integrity violation")
	ErrNotFound          = errors.New("index record not found")
)

// Lifecycle errors.
var (
	ErrCancelled       = errors.New("job cancelled")
	ErrTimeout         = errors.New("operation timed out")
	ErrNoPassword      = errors.New("password input timed out")
	ErrWorkerPanicked  = errors.New("worker panicked")
)

var kindOf = map[error]Kind{
	ErrInvalidPattern:       KindConfiguration,
	ErrMissingPassword:      KindConfiguration,
	ErrUnsupportedAlgorithm: KindConfiguration,
	ErrSourceNotFound:       KindSource,
	ErrPermissionDenied:     KindSource,
	ErrReadFailed:           KindSource,
	ErrCorruptArchive:       KindArchive,
	ErrUnknownChunk:         KindArchive,
	ErrUnverifiedSignature:  KindArchive,
	ErrCrcMismatch:          KindArchive,
	ErrChunkDepthExceeded:   KindArchive,
	ErrCompressFailure:      KindCodec,
	ErrDecompressFailure:    KindCodec,
	ErrDecryptAuthFailure:   KindCodec,
	ErrNotReachable:         KindStorage,
	ErrAuthFailed:           KindStorage,
	ErrQuota:                KindStorage,
	ErrNotMounted:           KindStorage,
	ErrConflict:             KindStorage,
	ErrSizeUnavailable:      KindStorage,
	ErrSchemaMismatch:       KindIndex,
	ErrBusy:                 KindIndex,
	ErrIntegrityViolation:   KindIndex,
	ErrNotFound:             KindIndex,
	ErrCancelled:            KindLifecycle,
	ErrTimeout:              KindLifecycle,
	ErrNoPassword:           KindLifecycle,
	ErrWorkerPanicked:       KindLifecycle,
}

// Classify reports which category err (or one of its wrapped causes)
// belongs to. Returns KindUnknown if err does not wrap any sentinel above.
func Classify(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the retry policy should back off and retry err,
// per section 4.7: transient Storage errors retry; AuthFailed, DecryptAuthFailure,
// and CorruptArchive are fatal.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotReachable):
		return true
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrDecryptAuthFailure), errors.Is(err, ErrCorruptArchive):
		return false
	}
	return false
}

// WithContext attaches the contextual filename or storage name section 7
// requires every user-visible failure to carry.
func WithContext(err error, name string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
