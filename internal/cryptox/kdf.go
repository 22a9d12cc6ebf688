package cryptox

import (
	"crypto/md5"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize = 32

	// pbkdf2Iterations is part of the version 3 format contract; changing
	// it breaks decryption of existing files.
	pbkdf2Iterations = 10000
)

// padKey stretches or shrinks a secret to exactly size bytes. Short secrets
// are padded with 0xff (the historical wire behavior); secrets longer than
// size are first reduced with SHA-256 so no key material is silently cut off.
func padKey(secret []byte, size int) []byte {
	if len(secret) > size {
		sum := sha256.Sum256(secret)
		secret = sum[:]
	}
	out := make([]byte, size)
	n := copy(out, secret)
	for i := n; i < size; i++ {
		out[i] = 0xff
	}
	return out
}

// deriveKey produces the cipher key for an envelope, dispatching on the
// format version:
//
//	v1: the padded secret is the key.
//	v2: iterated-MD5 chain over secret+salt (legacy, dead-end format).
//	v3: PBKDF2-SHA256 with the per-file salt from the header.
func deriveKey(secret []byte, env *Envelope) []byte {
	switch env.Version {
	case Version2:
		return md5ChainKey(padKey(secret, keySize), env.Salt, keySize)
	case Version3:
		return pbkdf2.Key(secret, env.Salt, pbkdf2Iterations, keySize, sha256.New)
	default:
		return padKey(secret, keySize)
	}
}

// md5ChainKey derives size bytes by iterating digest = md5(digest+secret+salt)
// and concatenating the results. Kept only to read version 2 envelopes.
func md5ChainKey(secret, salt []byte, size int) []byte {
	var out []byte
	var prev []byte
	for len(out) < size {
		h := md5.New()
		h.Write(prev)
		h.Write(secret)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:size]
}
