package barcodec

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/twofish"
)

// Twofish builds an encryption Stage over key using twofish in CTR mode
// with a separate HMAC-SHA256 integrity tag: twofish has no AEAD mode of
// its own, so twofishAEAD composes the two the way crypto/cipher.AEAD
// expects, letting it share aeadStage's block framing with the true AEAD
// ciphers.
func Twofish(key []byte) (Stage, error) {
	if _, err := twofish.NewCipher(key); err != nil {
		return nil, err
	}
	return aeadStage{
		name:    "twofish-hmac",
		newAEAD: func() (cipher.AEAD, error) { return newTwofishAEAD(key) },
	}, nil
}

func newTwofishAEAD(key []byte) (cipher.AEAD, error) {
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &twofishAEAD{block: block, key: key}, nil
}

type twofishAEAD struct {
	block cipher.Block
	key   []byte
}

func (a *twofishAEAD) NonceSize() int { return twofish.BlockSize }
func (a *twofishAEAD) Overhead() int  { return sha256.Size }

func (a *twofishAEAD) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	ct := make([]byte, len(plaintext))
	cipher.NewCTR(a.block, nonce).XORKeyStream(ct, plaintext)
	mac := hmac.New(sha256.New, a.key)
	mac.Write(nonce)
	mac.Write(additionalData)
	mac.Write(ct)
	tag := mac.Sum(nil)
	out := append(dst, ct...)
	return append(out, tag...)
}

func (a *twofishAEAD) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < sha256.Size {
		return nil, errors.New("cipher: message authentication failed")
	}
	ct := ciphertext[:len(ciphertext)-sha256.Size]
	gotTag := ciphertext[len(ciphertext)-sha256.Size:]

	mac := hmac.New(sha256.New, a.key)
	mac.Write(nonce)
	mac.Write(additionalData)
	mac.Write(ct)
	wantTag := mac.Sum(nil)
	if !hmac.Equal(gotTag, wantTag) {
		return nil, errors.New("cipher: message authentication failed")
	}

	pt := make([]byte, len(ct))
	cipher.NewCTR(a.block, nonce).XORKeyStream(pt, ct)
	return append(dst, pt...), nil
}
