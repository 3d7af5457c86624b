// Package crypto defines the encryption capability the fact store consumes and
// ships an AES-256-GCM implementation of it. Key management lives elsewhere;
// this package only accepts an opaque key handle.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrDecryption is returned when ciphertext cannot be opened with the given
// key, either because the key is wrong or the data was tampered with.
var ErrDecryption = errors.New("decryption failed")

// ErrInvalidKey is returned for key handles of the wrong size or encoding.
var ErrInvalidKey = errors.New("invalid key")

const (
	KeySize = 32
	ivSize  = 12
	tagSize = 16
)

// Key is an opaque symmetric key handle.
type Key []byte

// Blob is an encrypted payload with its IV and authentication tag kept apart,
// matching how they are persisted.
type Blob struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Cipher encrypts and decrypts payloads. Each call is self-contained.
type Cipher interface {
	Encrypt(key Key, plaintext []byte) (Blob, error)
	Decrypt(key Key, blob Blob) ([]byte, error)
}

// AESGCM is a Cipher using AES-256-GCM with a random 96-bit IV per call.
type AESGCM struct{}

func (AESGCM) aead(key Key) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key.
func (c AESGCM) Encrypt(key Key, plaintext []byte) (Blob, error) {
	gcm, err := c.aead(key)
	if err != nil {
		return Blob{}, err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Blob{}, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - tagSize
	return Blob{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens blob under key. Any authentication failure is ErrDecryption.
func (c AESGCM) Decrypt(key Key, blob Blob) ([]byte, error) {
	gcm, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	if len(blob.IV) != ivSize || len(blob.AuthTag) != tagSize {
		return nil, fmt.Errorf("%w: malformed blob", ErrDecryption)
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+len(blob.AuthTag))
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.AuthTag...)

	plain, err := gcm.Open(nil, blob.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

// NewKey returns a fresh random key.
func NewKey() (Key, error) {
	k := make(Key, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) (Key, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	return Key(b), nil
}

// LoadKey reads a hex key from the environment variable envName, falling back
// to the file at path. Empty arguments are skipped.
func LoadKey(envName, path string) (Key, error) {
	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return ParseKey(v)
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return ParseKey(string(data))
	}
	return nil, fmt.Errorf("%w: set $%s or encryption.key_file", ErrInvalidKey, envName)
}

// String renders the key as hex.
func (k Key) String() string {
	return hex.EncodeToString(k)
}
