package barcodec

import "golang.org/x/crypto/argon2"

// Argon2id parameters match a typical login password hash: time=3,
// memory=64MiB, 4 threads. The archive encryption key derived here is a
// distinct use of the same primitive (key material, not a comparable
// hash), so it gets its own function rather than reusing PHC formatting
// meant for stored password hashes.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// DeriveKey derives a keyLen-byte encryption key from plaintext password
// bytes and a per-archive salt (stored in the BAR0 header chunk), using
// argon2id.
func DeriveKey(password, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey(password, salt, kdfTime, kdfMemory, kdfThreads, keyLen)
}
