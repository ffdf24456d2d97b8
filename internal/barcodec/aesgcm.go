package barcodec

import (
	"crypto/aes"
	"crypto/cipher"
)

// AESGCM builds an AES-256-GCM encryption Stage over key (32 bytes). Built
// entirely on crypto/aes + crypto/cipher: the pack carries no alternative
// AEAD-over-AES library, so this one stage is stdlib by necessity.
func AESGCM(key []byte) (Stage, error) {
	// Validate eagerly so a bad key surfaces at pipeline construction, not
	// on the first write.
	if _, err := newAESGCM(key); err != nil {
		return nil, err
	}
	return aeadStage{
		name:    "aes-gcm",
		newAEAD: func() (cipher.AEAD, error) { return newAESGCM(key) },
	}, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
