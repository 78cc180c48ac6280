package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload, err := EncryptString("secret", "DATABASE_URL=postgres://localhost")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := DecryptToString("secret", payload)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != "DATABASE_URL=postgres://localhost" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	payload, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := DecryptToString("other", payload); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	payload, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	payload[len(payload)-1] ^= 0xff
	if _, err := DecryptToString("secret", payload); err == nil {
		t.Fatal("expected decryption of tampered payload to fail")
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	a, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertexts for repeated encryption")
	}
}
