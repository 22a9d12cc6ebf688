package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"math"

	"github.com/dmitrijs2005/skysync/internal/common"
	"golang.org/x/crypto/chacha20"
)

const aesBlockSize = 16

// NewEncryptor builds an envelope for the given algorithm and format version
// and returns a reader producing the envelope header followed by the
// ciphertext of src. origLen must be the exact plaintext length; it is
// recorded in the header and, for AES-CBC, decides the final padding.
//
// Writers normally emit version 1 or version 3. Version 2 is still writable
// so the legacy format stays exercisable, but nothing new should use it.
func NewEncryptor(secret []byte, algo Algorithm, version Version, src io.Reader, origLen int64) (*Envelope, io.Reader, error) {
	if version < Version1 || version > Version3 {
		return nil, nil, fmt.Errorf("%w: version %d", common.ErrCorruptEnvelope, version)
	}

	env := &Envelope{
		Algorithm: algo,
		Version:   version,
		NonceOrIV: common.GenerateRandBytes(nonceSize),
		OrigLen:   origLen,
	}
	if version != Version1 {
		// The per-file salt is generated exactly once here and never
		// reused; it travels with the file in the header.
		env.Salt = common.GenerateRandBytes(saltSize)
	}

	header, err := env.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	body, err := encryptBody(secret, env, src, origLen)
	if err != nil {
		return nil, nil, err
	}

	return env, io.MultiReader(bytes.NewReader(header), body), nil
}

func encryptBody(secret []byte, env *Envelope, src io.Reader, origLen int64) (io.Reader, error) {
	key := deriveKey(secret, env)

	switch env.Algorithm {
	case AlgoNone:
		return src, nil
	case AlgoSimple:
		c := newSimpleCipher(key)
		return &transformReader{src: src, transform: c.encryptInPlace}, nil
	case AlgoChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(key, env.NonceOrIV[:chacha20.NonceSize])
		if err != nil {
			return nil, fmt.Errorf("chacha20 init: %w", err)
		}
		return &transformReader{src: src, transform: xorKeyStream(stream)}, nil
	case AlgoAES256CBC:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes init: %w", err)
		}
		return &cbcEncryptReader{
			src:     src,
			mode:    cipher.NewCBCEncrypter(block, env.NonceOrIV),
			remain:  origLen,
			padding: origLen%aesBlockSize != 0,
		}, nil
	default:
		return nil, fmt.Errorf("%w: algorithm id %d", common.ErrUnsupportedAlgorithm, env.Algorithm)
	}
}

// NewDecryptor returns a reader producing the plaintext of src, which must be
// positioned at the first ciphertext byte (immediately after the envelope
// header, as left by ParseEnvelope).
//
// A wrong secret is not detected here: the format has no integrity tag, so
// decryption succeeds and yields garbage.
func NewDecryptor(secret []byte, env *Envelope, src io.Reader) (io.Reader, error) {
	key := deriveKey(secret, env)

	switch env.Algorithm {
	case AlgoNone:
		return io.LimitReader(src, env.OrigLen), nil
	case AlgoSimple:
		c := newSimpleCipher(key)
		return io.LimitReader(&transformReader{src: src, transform: c.decryptInPlace}, env.OrigLen), nil
	case AlgoChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(key, env.NonceOrIV[:chacha20.NonceSize])
		if err != nil {
			return nil, fmt.Errorf("chacha20 init: %w", err)
		}
		return io.LimitReader(&transformReader{src: src, transform: xorKeyStream(stream)}, env.OrigLen), nil
	case AlgoAES256CBC:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes init: %w", err)
		}
		dec := &cbcDecryptReader{src: src, mode: cipher.NewCBCDecrypter(block, env.NonceOrIV)}
		// OrigLen truncation drops the PKCS#7 padding without a second pass.
		return io.LimitReader(dec, env.OrigLen), nil
	default:
		return nil, fmt.Errorf("%w: algorithm id %d", common.ErrUnsupportedAlgorithm, env.Algorithm)
	}
}

// NewDecryptorAt returns a plaintext reader for ciphertext starting at the
// given plaintext offset. src must be positioned at header length + offset
// bytes into the enveloped stream.
//
// Only None and Simple support arbitrary offsets. ChaCha20 supports offsets
// aligned to its 64-byte keystream blocks. AES-CBC supports none of this;
// decrypt the whole stream instead.
func NewDecryptorAt(secret []byte, env *Envelope, src io.Reader, offset int64) (io.Reader, error) {
	if offset < 0 || offset > env.OrigLen {
		return nil, fmt.Errorf("offset %d out of range [0, %d]", offset, env.OrigLen)
	}
	remain := env.OrigLen - offset
	key := deriveKey(secret, env)

	switch env.Algorithm {
	case AlgoNone:
		return io.LimitReader(src, remain), nil
	case AlgoSimple:
		c := newSimpleCipher(key)
		return io.LimitReader(&transformReader{src: src, transform: c.decryptInPlace}, remain), nil
	case AlgoChaCha20:
		if offset%chachaBlockSize != 0 {
			return nil, fmt.Errorf("chacha20 offset %d is not a multiple of %d", offset, chachaBlockSize)
		}
		stream, err := chacha20.NewUnauthenticatedCipher(key, env.NonceOrIV[:chacha20.NonceSize])
		if err != nil {
			return nil, fmt.Errorf("chacha20 init: %w", err)
		}
		counter := uint64(offset) / chachaBlockSize
		if counter > math.MaxUint32 {
			return nil, fmt.Errorf("chacha20 offset %d exceeds the keystream counter range", offset)
		}
		stream.SetCounter(uint32(counter))
		return io.LimitReader(&transformReader{src: src, transform: xorKeyStream(stream)}, remain), nil
	default:
		return nil, fmt.Errorf("algorithm %s does not support offset decryption", env.Algorithm)
	}
}

const chachaBlockSize = 64

// xorKeyStream adapts the two-argument XORKeyStream to the in-place shape
// transformReader expects.
func xorKeyStream(stream *chacha20.Cipher) func(p []byte) {
	return func(p []byte) { stream.XORKeyStream(p, p) }
}

// transformReader applies an in-place transform to every byte read from src.
// Suitable for stream ciphers and the substitution cipher, where output
// length equals input length.
type transformReader struct {
	src       io.Reader
	transform func(p []byte)
}

func (r *transformReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.transform(p[:n])
	}
	return n, err
}

func (c *simpleCipher) encryptInPlace(p []byte) {
	for i, b := range p {
		p[i] = c.enc[b]
	}
}

func (c *simpleCipher) decryptInPlace(p []byte) {
	for i, b := range p {
		p[i] = c.dec[b]
	}
}

// cbcEncryptReader streams AES-CBC ciphertext. Plaintext is buffered to
// block boundaries; when the final plaintext byte has been consumed and the
// total length is not block-aligned, a PKCS#7 padding block is appended.
type cbcEncryptReader struct {
	src     io.Reader
	mode    cipher.BlockMode
	remain  int64 // plaintext bytes still expected from src
	padding bool  // whether a padding block is required at the end
	partial []byte
	out     bytes.Buffer
	done    bool
}

func (r *cbcEncryptReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 && !r.done {
		if err := r.fill(len(p)); err != nil {
			return 0, err
		}
	}
	if r.out.Len() == 0 && r.done {
		return 0, io.EOF
	}
	return r.out.Read(p)
}

func (r *cbcEncryptReader) fill(hint int) error {
	if hint < aesBlockSize {
		hint = aesBlockSize
	}
	buf := make([]byte, hint)
	n, err := r.src.Read(buf)
	if n > 0 {
		r.remain -= int64(n)
		r.partial = append(r.partial, buf[:n]...)
	}

	finished := r.remain <= 0 || err == io.EOF
	if finished {
		r.done = true
		if r.padding {
			r.partial = pkcs7Pad(r.partial, aesBlockSize)
		} else if len(r.partial)%aesBlockSize != 0 {
			return fmt.Errorf("%w: plaintext length does not match envelope", common.ErrCorruptEnvelope)
		}
		if len(r.partial) > 0 {
			r.mode.CryptBlocks(r.partial, r.partial)
			r.out.Write(r.partial)
			r.partial = nil
		}
		return nil
	}
	if err != nil {
		return err
	}

	if aligned := len(r.partial) / aesBlockSize * aesBlockSize; aligned > 0 {
		r.mode.CryptBlocks(r.partial[:aligned], r.partial[:aligned])
		r.out.Write(r.partial[:aligned])
		r.partial = append(r.partial[:0], r.partial[aligned:]...)
	}
	return nil
}

// cbcDecryptReader streams AES-CBC plaintext. Ciphertext is buffered to
// block boundaries; the caller truncates to the envelope's origin length,
// which disposes of the padding.
type cbcDecryptReader struct {
	src     io.Reader
	mode    cipher.BlockMode
	partial []byte
	out     bytes.Buffer
	srcEOF  bool
}

func (r *cbcDecryptReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 && !r.srcEOF {
		if err := r.fill(len(p)); err != nil {
			return 0, err
		}
	}
	if r.out.Len() == 0 && r.srcEOF {
		if len(r.partial) != 0 {
			return 0, fmt.Errorf("%w: ciphertext is not block aligned", common.ErrCorruptEnvelope)
		}
		return 0, io.EOF
	}
	return r.out.Read(p)
}

func (r *cbcDecryptReader) fill(hint int) error {
	if hint < aesBlockSize {
		hint = aesBlockSize
	}
	buf := make([]byte, hint)
	n, err := r.src.Read(buf)
	if n > 0 {
		r.partial = append(r.partial, buf[:n]...)
	}
	if err == io.EOF {
		r.srcEOF = true
	} else if err != nil {
		return err
	}

	aligned := len(r.partial) / aesBlockSize * aesBlockSize
	if r.srcEOF {
		aligned = len(r.partial)
		if aligned%aesBlockSize != 0 {
			// surface the misalignment from Read, after draining out
			aligned = len(r.partial) / aesBlockSize * aesBlockSize
		}
	}
	if aligned > 0 {
		r.mode.CryptBlocks(r.partial[:aligned], r.partial[:aligned])
		r.out.Write(r.partial[:aligned])
		r.partial = append(r.partial[:0], r.partial[aligned:]...)
	}
	return nil
}

func pkcs7Pad(data []byte, block int) []byte {
	pad := block - len(data)%block
	for i := 0; i < pad; i++ {
		data = append(data, byte(pad))
	}
	return data
}
