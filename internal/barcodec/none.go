package barcodec

import "crypto/cipher"

// passthroughAEAD is the identity transform: Seal/Open copy bytes
// unchanged. Routing None through aeadStage (rather than a bespoke
// pass-through Encoder/Decoder) gives the "no compression, no encryption"
// configuration the same block framing and self-delimiting terminal-block
// marker the real AEAD stages have.
type passthroughAEAD struct{}

func (passthroughAEAD) NonceSize() int { return 0 }
func (passthroughAEAD) Overhead() int  { return 0 }

func (passthroughAEAD) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	return append(dst, plaintext...)
}

func (passthroughAEAD) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	return append(dst, ciphertext...), nil
}

// None is the identity Stage: the "none" algorithm choice (spec 4.3,
// "either may be set to none").
var None Stage = aeadStage{
	name:    "none",
	newAEAD: func() (cipher.AEAD, error) { return passthroughAEAD{}, nil },
}
