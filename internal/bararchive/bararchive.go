// Package bararchive implements the archive engine (spec section 4.4): a
// writer/reader pair over the chunk-framed, codec-piped, optionally
// multi-volume archive format described in section 6.
package bararchive

import (
	"crypto/ed25519"
	"time"

	"barchive/internal/barconfig"
)

// EntryKind identifies the kind of filesystem object an entry represents.
type EntryKind uint8

const (
	KindFile EntryKind = iota + 1
	KindImage
	KindDirectory
	KindLink
	KindHardlink
	KindSpecial
)

// Metadata carries one entry's filesystem attributes, msgpack-encoded into
// the entry's type chunk body.
type Metadata struct {
	Name                string
	UID, GID            uint32
	Mode                uint32
	MTime, CTime, ATime time.Time
	XAttrs              map[string][]byte
	HardlinkTarget      uint64
	LinkTarget          string
	RDev                uint64
}

// WriterConfig configures a new archive Writer.
type WriterConfig struct {
	Compression    barconfig.Compression
	Encryption     barconfig.Encryption
	Password       []byte // deployed plaintext password bytes, caller-owned
	VolumeMaxBytes int64
	SigningKey     ed25519.PrivateKey // optional; emits a SIGN chunk per volume when set
}

// ReaderConfig configures a new archive Reader.
type ReaderConfig struct {
	Password       []byte
	TrustedSigners []ed25519.PublicKey
	// AllowUnverified lets NextEntry/ReadData succeed even when a SIGN
	// chunk fails verification (or is never reached) instead of returning
	// barerr.ErrUnverifiedSignature.
	AllowUnverified bool
	// Tolerant, when true, skips chunks of a type this reader doesn't
	// recognize instead of rejecting the archive. Read validation is
	// strict by default (the zero value).
	Tolerant bool
}

// VolumeResult describes one completed, stored archive object.
type VolumeResult struct {
	Name  string
	Bytes int64
}

// sparseThreshold is the minimum run length of zero bytes that gets
// collapsed into a SPRS chunk instead of being written as literal data
// (spec 4.4: sparse runs become distinct chunks on write, reconstructed as
// zero-fill on read).
const sparseThreshold = 4096

// headerVersionMajor/Minor identify this format revision in BAR0 chunks.
const (
	headerVersionMajor = 1
	headerVersionMinor = 0
)

// compressionID/encryptionID map the enum configuration values onto the
// single-byte codes stored in a volume's BAR0 header chunk, so a Reader
// can reconstruct the same codec pipeline without out-of-band
// configuration.
func compressionID(c barconfig.Compression) byte {
	switch c {
	case barconfig.CompressionNone, "":
		return 0
	case barconfig.CompressionZstd:
		return 1
	case barconfig.CompressionBrotli:
		return 2
	default:
		return 0
	}
}

func compressionFromID(id byte) barconfig.Compression {
	switch id {
	case 1:
		return barconfig.CompressionZstd
	case 2:
		return barconfig.CompressionBrotli
	default:
		return barconfig.CompressionNone
	}
}

func encryptionID(e barconfig.Encryption) byte {
	switch e {
	case barconfig.EncryptionNone, "":
		return 0
	case barconfig.EncryptionAES:
		return 1
	case barconfig.EncryptionTwofish:
		return 2
	case barconfig.EncryptionChaCha20:
		return 3
	default:
		return 0
	}
}

func encryptionFromID(id byte) barconfig.Encryption {
	switch id {
	case 1:
		return barconfig.EncryptionAES
	case 2:
		return barconfig.EncryptionTwofish
	case 3:
		return barconfig.EncryptionChaCha20
	default:
		return barconfig.EncryptionNone
	}
}

func entryChunkKind(k EntryKind) (string, bool) {
	switch k {
	case KindFile:
		return "FILE", true
	case KindImage:
		return "IMAG", true
	case KindDirectory:
		return "DIRE", true
	case KindLink:
		return "LINK", true
	case KindHardlink:
		return "HLNK", true
	case KindSpecial:
		return "SPEC", true
	default:
		return "", false
	}
}

func kindFromChunkName(name string) (EntryKind, bool) {
	switch name {
	case "FILE":
		return KindFile, true
	case "IMAG":
		return KindImage, true
	case "DIRE":
		return KindDirectory, true
	case "LINK":
		return KindLink, true
	case "HLNK":
		return KindHardlink, true
	case "SPEC":
		return KindSpecial, true
	default:
		return 0, false
	}
}
