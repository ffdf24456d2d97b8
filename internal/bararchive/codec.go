package bararchive

import (
	"fmt"

	"barchive/internal/barcodec"
	"barchive/internal/barconfig"
)

// buildPipeline constructs the codec.Pipeline a BAR0 header's
// {CompressionID, EncryptionID, Salt} describes: compress, then encrypt,
// matching the stage order spec 4.3 requires. key is nil when
// encryption is none.
func buildPipeline(comp barconfig.Compression, enc barconfig.Encryption, key []byte) (*barcodec.Pipeline, error) {
	var stages []barcodec.Stage
	switch comp {
	case barconfig.CompressionZstd:
		stages = append(stages, barcodec.Zstd)
	case barconfig.CompressionBrotli:
		stages = append(stages, barcodec.Brotli)
	case barconfig.CompressionNone, "":
	default:
		return nil, fmt.Errorf("compression %q not supported", comp)
	}

	switch enc {
	case barconfig.EncryptionAES:
		st, err := barcodec.AESGCM(key)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	case barconfig.EncryptionTwofish:
		st, err := barcodec.Twofish(key)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	case barconfig.EncryptionChaCha20:
		st, err := barcodec.ChaCha20Poly1305(key)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	case barconfig.EncryptionNone, "":
	default:
		return nil, fmt.Errorf("encryption %q not supported", enc)
	}

	if len(stages) == 0 {
		stages = append(stages, barcodec.None)
	}
	return barcodec.New(stages...), nil
}

// encryptionKeyLen is the key size (bytes) all three supported encryption
// stages share: 32-byte keys for AES-256-GCM, twofish-256, and
// ChaCha20-Poly1305.
const encryptionKeyLen = 32
