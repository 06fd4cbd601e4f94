package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	kdfSaltSize   = 16
)

var ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

// Encrypt seals plaintext with AES-GCM under a key derived from passphrase.
// The result is "salt-nonce-ciphertext", each part hex encoded.
func Encrypt(passphrase string, plaintext []byte) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	salt := make([]byte, kdfSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return strings.Join([]string{hex.EncodeToString(salt), hex.EncodeToString(nonce), hex.EncodeToString(ciphertext)}, "-"), nil
}

func Decrypt(passphrase string, data string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	arr := strings.Split(data, "-")
	if len(arr) != 3 {
		return nil, fmt.Errorf("invalid encrypted data: expected 3 parts, got %d", len(arr))
	}
	parts := make([][]byte, len(arr))
	for i, s := range arr {
		var err error
		if parts[i], err = hex.DecodeString(s); err != nil {
			return nil, fmt.Errorf("decoding hex data: %w", err)
		}
	}
	salt, nonce, ciphertext := parts[0], parts[1], parts[2]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting data (incorrect passphrase?): %w", err)
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM cipher: %w", err)
	}
	return gcm, nil
}
