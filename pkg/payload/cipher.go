package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Encrypt encrypts plaintext under a 256-bit tenant key with AES-256-GCM.
// A fresh random nonce is generated on every call; there is no counter or
// shared state that could repeat one. The GCM tag is split off so ciphertext
// and tag travel as separate wire fields.
func Encrypt(plaintext, key []byte) (*Ciphertext, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	// Seal appends the tag to the ciphertext
	split := len(sealed) - TagSize
	return &Ciphertext{
		Data:  sealed[:split],
		Nonce: nonce,
		Tag:   sealed[split:],
	}, nil
}

// Decrypt authenticates and decrypts a ciphertext produced by Encrypt.
// Authentication failure returns an error; there is no fallback path that
// yields unauthenticated plaintext.
func Decrypt(ct *Ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if ct == nil {
		return nil, fmt.Errorf("ciphertext cannot be nil")
	}
	if len(ct.Tag) != TagSize {
		return nil, fmt.Errorf("invalid tag size: expected %d, got %d", TagSize, len(ct.Tag))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ct.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: expected %d, got %d", gcm.NonceSize(), len(ct.Nonce))
	}

	sealed := make([]byte, 0, len(ct.Data)+len(ct.Tag))
	sealed = append(sealed, ct.Data...)
	sealed = append(sealed, ct.Tag...)

	plaintext, err := gcm.Open(nil, ct.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
