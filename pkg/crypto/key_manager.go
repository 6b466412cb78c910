package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// MasterKeyEnv names the primary key; rotated keys use MasterKeyEnv_V2 and up.
const MasterKeyEnv = "SCALP_MASTER_KEY"

const maxKeyVersions = 10

var ErrKeyNotFound = errors.New("encryption key not found")

// Keyring holds every configured key version. New values are sealed with
// the latest one; sealed values name the version that opens them.
type Keyring struct {
	current    int
	encryptors map[int]*Encryptor
}

// LoadKeyring reads base64 keys through lookup. Version 1 is required.
func LoadKeyring(lookup func(string) string) (*Keyring, error) {
	kr := &Keyring{encryptors: make(map[int]*Encryptor)}
	for v := 1; v <= maxKeyVersions; v++ {
		name := MasterKeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", MasterKeyEnv, v)
		}
		raw := lookup(name)
		if raw == "" {
			if v == 1 {
				return nil, fmt.Errorf("%s: %w", name, ErrKeyNotFound)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		enc, err := NewEncryptor(key, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		kr.encryptors[v] = enc
		kr.current = v
	}
	return kr, nil
}

// KeyringFromEnv loads the keyring from the process environment.
func KeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(os.Getenv)
}

func (kr *Keyring) Encrypt(plaintext string) (string, error) {
	return kr.encryptors[kr.current].Encrypt(plaintext)
}

func (kr *Keyring) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	enc, ok := kr.encryptors[version]
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return enc.Decrypt(ciphertext)
}

// Reveal opens sealed values and passes plain values through.
func (kr *Keyring) Reveal(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return kr.Decrypt(value)
}

func (kr *Keyring) CurrentVersion() int { return kr.current }

// GenerateKey returns a new random base64 key for MasterKeyEnv.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
