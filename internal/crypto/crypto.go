// Package crypto seals small secrets at rest (persisted browser sessions).
// A 32-byte key is derived from an operator-supplied root key with HKDF-SHA256 and
// payloads are encrypted with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of a derived sealing key in bytes (256 bits)
	KeySize = 32

	// NonceSize is the size of the AES-GCM nonce in bytes (96 bits)
	NonceSize = 12

	tagSize = 16
)

// DeriveKey derives a sealing key from rootKey using HKDF-SHA256.
// purpose and version provide domain separation: info = purpose + ":v" + version.
func DeriveKey(rootKey []byte, purpose string, version int) []byte {
	info := fmt.Sprintf("%s:v%d", purpose, version)

	// Salt is nil; the root key is expected to be high-entropy.
	hkdfReader := hkdf.New(sha256.New, rootKey, nil, []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// HKDF cannot run short for 32 bytes of SHA-256 output
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}

// ParseHexKey decodes a 64-character hex root key.
func ParseHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("root key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("root key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM.
// Output format: nonce (12 bytes) || ciphertext || auth tag (16 bytes)
func Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, additionalData)
	result := make([]byte, len(nonce)+len(ciphertext))
	copy(result, nonce)
	copy(result[len(nonce):], ciphertext)
	return result, nil
}

// Open reverses Seal. Any tampering or a wrong key yields an error.
func Open(key, sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < NonceSize+tagSize {
		return nil, fmt.Errorf("sealed payload too short: got %d bytes, need at least %d", len(sealed), NonceSize+tagSize)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, sealed[:NonceSize], sealed[NonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed payload: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
