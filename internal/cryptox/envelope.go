package cryptox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dmitrijs2005/skysync/internal/common"
)

// Algorithm identifies the symmetric cipher used for a stream.
type Algorithm byte

const (
	AlgoNone      Algorithm = 0
	AlgoSimple    Algorithm = 1
	AlgoChaCha20  Algorithm = 2
	AlgoAES256CBC Algorithm = 3
)

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgoNone:
		return "none"
	case AlgoSimple:
		return "simple"
	case AlgoChaCha20:
		return "chacha20"
	case AlgoAES256CBC:
		return "aes256cbc"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "none":
		return AlgoNone, nil
	case "simple":
		return AlgoSimple, nil
	case "chacha20":
		return AlgoChaCha20, nil
	case "aes256cbc":
		return AlgoAES256CBC, nil
	default:
		return 0, fmt.Errorf("%w: %q", common.ErrUnsupportedAlgorithm, s)
	}
}

// Version is the envelope format version. The version fully determines how
// the key and IV are derived from the secret and how the header is laid out.
type Version byte

const (
	Version1 Version = 1
	Version2 Version = 2
	Version3 Version = 3
)

const (
	saltSize  = 8
	nonceSize = 16

	prefixLen = 6 // magic(4) + version(1) + algorithm(1)

	// MaxHeaderLen is the largest possible envelope header. Callers that
	// sniff remote content fetch this many bytes before deciding whether
	// the content is enveloped.
	MaxHeaderLen = prefixLen + saltSize + nonceSize + 8
)

var envelopeMagic = [4]byte{0x00, 'S', 'K', 'Y'}

// Envelope is the self-describing header prepended to encrypted content.
// It carries everything except the secret needed to reconstruct the cipher
// state: algorithm, format version, per-file salt (v2/v3) and nonce/IV.
type Envelope struct {
	Algorithm Algorithm
	Version   Version
	Salt      []byte // 8 bytes for v2/v3, nil for v1
	NonceOrIV []byte // 16 bytes; ChaCha20 uses the leading 12
	OrigLen   int64  // length of the plaintext
}

// HeaderLen returns the encoded header size for the envelope's version.
func (e *Envelope) HeaderLen() int {
	return headerLen(e.Version)
}

func headerLen(v Version) int {
	switch v {
	case Version1:
		return prefixLen + nonceSize + 8
	default:
		return prefixLen + saltSize + nonceSize + 8
	}
}

// MarshalBinary encodes the envelope header.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if e.Version < Version1 || e.Version > Version3 {
		return nil, fmt.Errorf("%w: version %d", common.ErrCorruptEnvelope, e.Version)
	}
	if len(e.NonceOrIV) != nonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", common.ErrCorruptEnvelope, nonceSize)
	}

	buf := make([]byte, 0, headerLen(e.Version))
	buf = append(buf, envelopeMagic[:]...)
	buf = append(buf, byte(e.Version), byte(e.Algorithm))
	if e.Version != Version1 {
		if len(e.Salt) != saltSize {
			return nil, fmt.Errorf("%w: salt must be %d bytes", common.ErrCorruptEnvelope, saltSize)
		}
		buf = append(buf, e.Salt...)
	}
	buf = append(buf, e.NonceOrIV...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.OrigLen))
	return buf, nil
}

// Detect reports whether the prefix looks like an envelope header. It needs
// at least the fixed prefix; shorter input is never enveloped.
func Detect(prefix []byte) bool {
	return len(prefix) >= prefixLen && bytes.Equal(prefix[:4], envelopeMagic[:])
}

// ParseEnvelope reads and decodes an envelope header from r, leaving r
// positioned at the first ciphertext byte.
//
// The reader is version-3-capable: it accepts version 1 and version 3
// envelopes. Version 2 is recognized but rejected with
// common.ErrIncompatibleVersion; see ParseEnvelopeV2 for the legacy path.
func ParseEnvelope(r io.Reader) (*Envelope, error) {
	env, err := parseEnvelope(r)
	if err != nil {
		return nil, err
	}
	if env.Version == Version2 {
		return nil, fmt.Errorf("%w: version 2 envelopes require the legacy reader", common.ErrIncompatibleVersion)
	}
	return env, nil
}

// ParseEnvelopeV2 is the legacy reader for the dead-end version 2 format.
// It accepts version 1 and version 2 envelopes, never version 3.
func ParseEnvelopeV2(r io.Reader) (*Envelope, error) {
	env, err := parseEnvelope(r)
	if err != nil {
		return nil, err
	}
	if env.Version == Version3 {
		return nil, fmt.Errorf("%w: version 3 envelope is not readable by the version 2 decoder", common.ErrIncompatibleVersion)
	}
	return env, nil
}

func parseEnvelope(r io.Reader) (*Envelope, error) {
	prefix := make([]byte, prefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", common.ErrCorruptEnvelope, err)
	}
	if !bytes.Equal(prefix[:4], envelopeMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", common.ErrCorruptEnvelope)
	}

	version := Version(prefix[4])
	if version < Version1 || version > Version3 {
		return nil, fmt.Errorf("%w: unknown version %d", common.ErrCorruptEnvelope, version)
	}

	algo := Algorithm(prefix[5])
	switch algo {
	case AlgoNone, AlgoSimple, AlgoChaCha20, AlgoAES256CBC:
	default:
		return nil, fmt.Errorf("%w: algorithm id %d", common.ErrUnsupportedAlgorithm, algo)
	}

	rest := make([]byte, headerLen(version)-prefixLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", common.ErrCorruptEnvelope, err)
	}

	env := &Envelope{Algorithm: algo, Version: version}
	if version != Version1 {
		env.Salt = rest[:saltSize]
		rest = rest[saltSize:]
	}
	env.NonceOrIV = rest[:nonceSize]
	env.OrigLen = int64(binary.BigEndian.Uint64(rest[nonceSize:]))
	if env.OrigLen < 0 {
		return nil, fmt.Errorf("%w: negative origin length", common.ErrCorruptEnvelope)
	}
	return env, nil
}

// RandomAccess reports whether arbitrary byte ranges of the ciphertext can
// be decrypted independently. Only None and Simple qualify; the stream and
// block ciphers need keystream or chaining state from earlier bytes.
func (e *Envelope) RandomAccess() bool {
	return e.Algorithm == AlgoNone || e.Algorithm == AlgoSimple
}

// Sequential reports whether decryption must be applied in offset order.
func (e *Envelope) Sequential() bool {
	return !e.RandomAccess()
}

// EncryptedSize returns the total on-wire size (header plus ciphertext) for
// a plaintext of origLen bytes under the given algorithm and version.
func EncryptedSize(algo Algorithm, version Version, origLen int64) int64 {
	body := origLen
	if algo == AlgoAES256CBC {
		body = padUp(origLen, aesBlockSize)
	}
	return int64(headerLen(version)) + body
}

func padUp(n, block int64) int64 {
	if r := n % block; r != 0 {
		return n + block - r
	}
	return n
}
