package cryptox

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// simpleCipher is a per-byte substitution cipher. The 256-entry permutation
// is derived deterministically from the key, so the same secret always yields
// the same table. Each byte is transformed independently of its neighbors,
// which gives full random access at the cost of any real security.
type simpleCipher struct {
	enc [256]byte
	dec [256]byte
}

func newSimpleCipher(key []byte) *simpleCipher {
	seedSum := sha256.Sum256(key)
	seed := int64(binary.BigEndian.Uint64(seedSum[:8]))

	// math/rand, not crypto/rand: the permutation must be reproducible
	// from the key alone.
	rg := rand.New(rand.NewSource(seed))

	c := &simpleCipher{}
	for i, v := range rg.Perm(256) {
		c.enc[i] = byte(v)
		c.dec[v] = byte(i)
	}
	return c
}

func (c *simpleCipher) decrypt(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = c.dec[b]
	}
	return out
}

// DecryptRange decrypts an arbitrary slice of Simple-encrypted ciphertext.
// No surrounding bytes are needed; the offset is irrelevant by construction.
// The envelope must use AlgoSimple.
func DecryptRange(secret []byte, env *Envelope, ciphertext []byte) []byte {
	c := newSimpleCipher(deriveKey(secret, env))
	return c.decrypt(ciphertext)
}
