// Package barconfig describes the job configuration options the archive
// engine recognizes (spec section 6). It is a plain, validated struct:
// parsing it from flags or a config file is explicitly out of scope for
// the core (spec section 1) — some external collaborator builds one of
// these and hands it to barjob.
package barconfig

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"barchive/internal/barerr"
)

// Compression identifies a negotiated compression algorithm.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionZstd   Compression = "zstd"
	CompressionBrotli Compression = "brotli"
)

// Encryption identifies a negotiated encryption algorithm.
type Encryption string

const (
	EncryptionNone       Encryption = "none"
	EncryptionAES        Encryption = "aes"
	EncryptionTwofish    Encryption = "twofish"
	EncryptionChaCha20   Encryption = "chacha20"
)

// Mode is the backup mode (spec section 6).
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeDifferential Mode = "differential"
	ModeContinuous  Mode = "continuous"
)

// Retry is the retry policy applied to transient storage errors
// (spec section 4.7, scenario 5).
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// IncrementalBase selects the entity an incremental/differential run diffs
// against: either the last entity of the same job UUID, or an explicit id.
type IncrementalBase struct {
	UseLast    bool
	ExplicitID int64
}

// Config is the validated set of options a Job is constructed with.
type Config struct {
	IncludePatterns []string
	ExcludePatterns []string
	Compression     Compression
	Encryption      Encryption
	ArchivePartSize int64 // bytes; 0 disables splitting
	IncrementalBase IncrementalBase
	Mode            Mode
	Retry           Retry
	Strict          bool
}

// Validate checks the patterns compile and the enums are known, returning
// barerr.ErrInvalidPattern / barerr.ErrUnsupportedAlgorithm / barerr.ErrMissingPassword
// wrapped with the offending value. Configuration errors are fatal at job
// start (spec section 7).
func (c Config) Validate(hasPasswordSource bool) error {
	for _, p := range c.IncludePatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("include pattern %q: %w", p, barerr.ErrInvalidPattern)
		}
	}
	for _, p := range c.ExcludePatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("exclude pattern %q: %w", p, barerr.ErrInvalidPattern)
		}
	}

	switch c.Compression {
	case CompressionNone, CompressionZstd, CompressionBrotli:
	default:
		return fmt.Errorf("compression %q: %w", c.Compression, barerr.ErrUnsupportedAlgorithm)
	}

	switch c.Encryption {
	case EncryptionNone:
	case EncryptionAES, EncryptionTwofish, EncryptionChaCha20:
		if !hasPasswordSource {
			return fmt.Errorf("encryption %q: %w", c.Encryption, barerr.ErrMissingPassword)
		}
	default:
		return fmt.Errorf("encryption %q: %w", c.Encryption, barerr.ErrUnsupportedAlgorithm)
	}

	switch c.Mode {
	case ModeFull, ModeIncremental, ModeDifferential, ModeContinuous:
	default:
		return fmt.Errorf("mode %q: %w", c.Mode, barerr.ErrUnsupportedAlgorithm)
	}

	if c.ArchivePartSize < 0 {
		return fmt.Errorf("archive_part_size %d: %w", c.ArchivePartSize, barerr.ErrInvalidPattern)
	}
	return nil
}

// Included reports whether path matches the ordered include/exclude glob
// lists: included if it matches any include pattern (or no include
// patterns are set, meaning "everything"), and not excluded by a later
// exclude pattern. Patterns are evaluated with doublestar so "**" spans
// path segments.
func (c Config) Included(path string) bool {
	included := len(c.IncludePatterns) == 0
	for _, p := range c.IncludePatterns {
		if ok, _ := doublestar.Match(p, path); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range c.ExcludePatterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return false
		}
	}
	return true
}
