package barcodec

import (
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20Poly1305 builds a combined encryption+integrity Stage over key
// (32 bytes), the additional AEAD algorithm negotiated alongside AES-GCM.
func ChaCha20Poly1305(key []byte) (Stage, error) {
	if _, err := chacha20poly1305.New(key); err != nil {
		return nil, err
	}
	return aeadStage{
		name:    "chacha20-poly1305",
		newAEAD: func() (cipher.AEAD, error) { return chacha20poly1305.New(key) },
	}, nil
}
