package cryptox

import (
	"bytes"
	"testing"
)

func TestPadKey_ShortSecretPadded(t *testing.T) {
	key := padKey([]byte("abc"), 32)
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}
	if !bytes.Equal(key[:3], []byte("abc")) {
		t.Fatalf("secret prefix not preserved")
	}
	for i := 3; i < 32; i++ {
		if key[i] != 0xff {
			t.Fatalf("byte %d not padded with 0xff: %x", i, key[i])
		}
	}
}

func TestPadKey_LongSecretReduced(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 100)
	key := padKey(long, 32)
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}
	// deterministic for the same input
	if !bytes.Equal(key, padKey(long, 32)) {
		t.Fatal("padKey not deterministic for long secrets")
	}
}

func TestDeriveKey_VersionSpecific(t *testing.T) {
	secret := []byte("secret")
	salt := []byte("12345678")

	v1 := deriveKey(secret, &Envelope{Version: Version1})
	v2 := deriveKey(secret, &Envelope{Version: Version2, Salt: salt})
	v3 := deriveKey(secret, &Envelope{Version: Version3, Salt: salt})

	if bytes.Equal(v1, v2) || bytes.Equal(v1, v3) || bytes.Equal(v2, v3) {
		t.Fatal("different format versions must derive different keys")
	}

	// same inputs -> same key
	if !bytes.Equal(v3, deriveKey(secret, &Envelope{Version: Version3, Salt: salt})) {
		t.Fatal("v3 derivation not deterministic")
	}

	other := deriveKey(secret, &Envelope{Version: Version3, Salt: []byte("87654321")})
	if bytes.Equal(v3, other) {
		t.Fatal("different salts must derive different keys")
	}
}

func TestMd5ChainKey_Deterministic(t *testing.T) {
	a := md5ChainKey([]byte("s"), []byte("salt"), 48)
	b := md5ChainKey([]byte("s"), []byte("salt"), 48)
	if !bytes.Equal(a, b) {
		t.Fatal("md5 chain not deterministic")
	}
	if len(a) != 48 {
		t.Fatalf("expected 48 bytes, got %d", len(a))
	}
}
