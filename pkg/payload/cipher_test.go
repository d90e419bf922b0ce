package payload

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

// TestEncryptDecrypt tests the round trip under a single key
func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("import sys\nprint(sys.argv)\n")

	ct, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if len(ct.Nonce) == 0 {
		t.Error("Ciphertext nonce is empty")
	}
	if len(ct.Tag) != TagSize {
		t.Errorf("Tag size = %d, want %d", len(ct.Tag), TagSize)
	}
	if bytes.Contains(ct.Data, plaintext) {
		t.Error("Ciphertext contains plaintext")
	}

	decrypted, err := Decrypt(ct, key)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

// TestEncrypt_FreshNonce tests that no nonce repeats across calls
func TestEncrypt_FreshNonce(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext every time")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ct, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt() iteration %d error = %v", i, err)
		}
		nonce := string(ct.Nonce)
		if seen[nonce] {
			t.Fatalf("Nonce repeated at iteration %d", i)
		}
		seen[nonce] = true
	}
}

// TestEncrypt_KeySize tests key length validation
func TestEncrypt_KeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		key := make([]byte, size)
		if _, err := Encrypt([]byte("data"), key); err == nil {
			t.Errorf("Encrypt() with %d-byte key succeeded, want error", size)
		}
	}
}

// TestEncrypt_EmptyPlaintext tests that empty input is rejected
func TestEncrypt_EmptyPlaintext(t *testing.T) {
	if _, err := Encrypt(nil, testKey(t)); err == nil {
		t.Error("Encrypt() with empty plaintext succeeded, want error")
	}
}

// TestDecrypt_Tampered tests that any modification fails authentication
func TestDecrypt_Tampered(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt([]byte("Get-Process | Select-Object Name"), key)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Ciphertext)
	}{
		{"flipped ciphertext bit", func(c *Ciphertext) { c.Data[0] ^= 0x01 }},
		{"flipped tag bit", func(c *Ciphertext) { c.Tag[0] ^= 0x01 }},
		{"flipped nonce bit", func(c *Ciphertext) { c.Nonce[0] ^= 0x01 }},
		{"truncated ciphertext", func(c *Ciphertext) { c.Data = c.Data[:len(c.Data)-1] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := &Ciphertext{
				Data:  append([]byte(nil), ct.Data...),
				Nonce: append([]byte(nil), ct.Nonce...),
				Tag:   append([]byte(nil), ct.Tag...),
			}
			tt.mutate(tampered)
			if _, err := Decrypt(tampered, key); err == nil {
				t.Error("Decrypt() of tampered ciphertext succeeded, want error")
			}
		})
	}
}

// TestDecrypt_WrongKey tests that a different key never decrypts
func TestDecrypt_WrongKey(t *testing.T) {
	ct, err := Encrypt([]byte("secret"), testKey(t))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(ct, testKey(t)); err == nil {
		t.Error("Decrypt() with wrong key succeeded, want error")
	}
}

// TestDecrypt_BadTagSize tests tag length validation
func TestDecrypt_BadTagSize(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt([]byte("data"), key)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	ct.Tag = ct.Tag[:TagSize-1]
	if _, err := Decrypt(ct, key); err == nil {
		t.Error("Decrypt() with short tag succeeded, want error")
	}
}
