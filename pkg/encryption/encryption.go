package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// EncryptedData holds an AES-GCM ciphertext with its metadata, all fields
// base64 encoded for JSON storage.
type EncryptedData struct {
	Data      string `json:"data"`
	IV        string `json:"iv"`
	Algorithm string `json:"algorithm"`
}

const algorithmAESGCM = "aes-256-gcm"

// GenerateRandomString generates random bytes of the given length, encoded to base64.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Errorf("failed to generate random string: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// Encrypt seals plaintext with AES-256-GCM under the given 32-byte key.
func Encrypt(key, plaintext []byte) (*EncryptedData, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)
	return &EncryptedData{
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		IV:        base64.StdEncoding.EncodeToString(iv),
		Algorithm: algorithmAESGCM,
	}, nil
}

// Decrypt opens an EncryptedData produced by Encrypt.
func Decrypt(key []byte, enc *EncryptedData) ([]byte, error) {
	if enc.Algorithm != algorithmAESGCM {
		return nil, fmt.Errorf("unsupported encryption algorithm: %s", enc.Algorithm)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(enc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return nil, fmt.Errorf("failed to decode IV: %w", err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid IV length: %d", len(iv))
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
