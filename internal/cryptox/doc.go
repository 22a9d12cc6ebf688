// Package cryptox implements the transparent-encryption layer of skysync:
// a self-describing binary envelope prepended to encrypted content, and
// three interchangeable symmetric algorithms behind a common stream
// interface.
//
// # Algorithms
//
//   - None: identity passthrough; content is stored as-is.
//   - Simple: a per-byte substitution table derived deterministically from
//     the secret. Because every byte is transformed independently, any byte
//     range of the ciphertext can be decrypted without surrounding context,
//     which is what makes ranged downloads and seekable media playback work.
//     It is NOT cryptographically secure: there is no diffusion, identical
//     plaintext bytes map to identical ciphertext bytes. Never use it for
//     sensitive data.
//   - ChaCha20: a real stream cipher. The keystream is sequential; seeking
//     is possible only to 64-byte-aligned offsets (see NewDecryptorAt).
//   - AES-256-CBC: a block cipher with PKCS#7 padding. Whole-stream
//     decryption only.
//
// # Envelope versions
//
// The envelope header starts with a fixed prefix (magic, format version,
// algorithm id) followed by version-specific key material:
//
//	version 1: nonce/iv(16) origin_length(8) — key padded directly from the secret
//	version 2: salt(8) nonce/iv(16) origin_length(8) — iterated-MD5 key derivation
//	version 3: salt(8) nonce/iv(16) origin_length(8) — PBKDF2-SHA256 per-file key
//
// Version 3 readers also accept version 1 envelopes. Version 2 is a dead-end
// format: version 3 readers reject it with common.ErrIncompatibleVersion
// instead of producing garbage. A version 2 reader in turn accepts version 1.
//
// Decrypting with the wrong secret is not detected: there is no integrity
// tag, decoding succeeds and yields garbage. This is an accepted limitation
// of the format, carried for compatibility, not a bug to fix silently.
package cryptox
