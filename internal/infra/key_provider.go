package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lbmctl/lbmctl/internal/domain"
)

const (
	keyFileName = ".layouts.key"
	keySize     = 32 // 256-bit SQLCipher key

	// KeyEnvVar, when set, supplies the layout database key as hex.
	KeyEnvVar = "LBMCTL_DB_KEY"
)

// FileKeyProvider implements domain.KeyProvider using a hex key file
// with 0600 permissions in the data directory.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the encryption key from the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

// StoreKey writes the encryption key to the key file with restricted permissions.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads the key from KeyEnvVar and falls back to a file provider.
// Keys are never written to the environment; StoreKey goes to the fallback.
type EnvKeyProvider struct {
	fallback domain.KeyProvider
}

// NewEnvKeyProvider wraps fallback.
func NewEnvKeyProvider(fallback domain.KeyProvider) *EnvKeyProvider {
	return &EnvKeyProvider{fallback: fallback}
}

// GetKey prefers the environment.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	if v := os.Getenv(KeyEnvVar); v != "" {
		key, err := decodeKey(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyEnvVar, err)
		}
		return key, nil
	}
	return p.fallback.GetKey()
}

// StoreKey delegates to the fallback provider.
func (p *EnvKeyProvider) StoreKey(key []byte) error {
	return p.fallback.StoreKey(key)
}

// KeyExists is true when the variable is set or the fallback has a key.
func (p *EnvKeyProvider) KeyExists() bool {
	return os.Getenv(KeyEnvVar) != "" || p.fallback.KeyExists()
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey generates and stores a key if one doesn't exist.
// Returns the key (existing or newly generated).
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure both providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
