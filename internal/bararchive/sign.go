package bararchive

import "crypto/ed25519"

func signDigest(key ed25519.PrivateKey, digest []byte) []byte {
	return ed25519.Sign(key, digest)
}

func verifyDigest(pub ed25519.PublicKey, digest, sig []byte) bool {
	return ed25519.Verify(pub, digest, sig)
}
