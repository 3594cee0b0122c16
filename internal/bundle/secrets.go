package bundle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Master key environment variables. DBPORT_MASTER_KEY is canonical;
// MIGRATOR_MASTER_KEY is accepted as an alias.
const (
	MasterKeyEnv      = "DBPORT_MASTER_KEY"
	MasterKeyEnvAlias = "MIGRATOR_MASTER_KEY"
)

// ErrNoMasterKey is returned when credential persistence is requested
// without a master key in the environment. Secrets are never written in
// the clear.
var ErrNoMasterKey = errors.New("no master key set; refusing to persist credentials")

func masterKey() ([]byte, bool) {
	val := os.Getenv(MasterKeyEnv)
	if val == "" {
		val = os.Getenv(MasterKeyEnvAlias)
	}
	if val == "" {
		return nil, false
	}
	// Arbitrary-length passphrases fold to a 256-bit AES key.
	sum := sha256.Sum256([]byte(val))
	return sum[:], true
}

// Encrypt seals plaintext under the master key with AES-256-GCM. Output
// is base64(nonce || ciphertext).
func Encrypt(plaintext []byte) (string, error) {
	key, ok := masterKey()
	if !ok {
		return "", ErrNoMasterKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encoded string) ([]byte, error) {
	key, ok := masterKey()
	if !ok {
		return nil, ErrNoMasterKey
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt encrypted value: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("encrypted value too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}

// PersistCredentials stores a connection URL encrypted in the bundle's
// input area. Without a master key, nothing is written and
// ErrNoMasterKey is returned; the caller records a limitation instead.
func (b *Bundle) PersistCredentials(name, rawURL string) error {
	sealed, err := Encrypt([]byte(rawURL))
	if err != nil {
		return err
	}
	path := filepath.Join(b.InputDir(), name+".enc")
	return os.WriteFile(path, []byte(sealed+"\n"), fileMode)
}

// LoadCredentials reads back an encrypted connection URL.
func (b *Bundle) LoadCredentials(name string) (string, error) {
	path := filepath.Join(b.InputDir(), name+".enc")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persisted credentials: %w", err)
	}
	plain, err := Decrypt(string(trimNewline(data)))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
