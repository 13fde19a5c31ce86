package crypto

import (
	"testing"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretBox failed: %v", err)
	}

	for _, plain := range []string{"", "x", "exactly-16-bytes", "a developer secret that spans blocks"} {
		enc, err := box.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plain, err)
		}
		dec, err := box.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if dec != plain {
			t.Errorf("round trip = %q, want %q", dec, plain)
		}
	}
}

func TestSecretBoxRandomIV(t *testing.T) {
	box, _ := NewSecretBox([]byte("0123456789abcdef"))
	a, _ := box.Encrypt("secret")
	b, _ := box.Encrypt("secret")
	if a == b {
		t.Error("Ciphertexts of the same plaintext should differ")
	}
}

func TestSecretBoxWrongKey(t *testing.T) {
	box, _ := NewSecretBox([]byte("0123456789abcdef"))
	other, _ := NewSecretBox([]byte("fedcba9876543210"))

	enc, _ := box.Encrypt("secret")
	if dec, err := other.Decrypt(enc); err == nil && dec == "secret" {
		t.Error("Decrypting with another key should not recover the plaintext")
	}

	if _, err := box.Decrypt("not base64!"); err == nil {
		t.Error("Expected error for invalid encoding")
	}
	if _, err := NewSecretBox([]byte("short")); err == nil {
		t.Error("Expected error for invalid key size")
	}
}
