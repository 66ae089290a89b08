package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file layout: [salt][nonce][ciphertext+tag], AES-256-GCM with an scrypt-derived key.
const (
	SecretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	gcmTagSize      = 16
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

// ErrWrongPassword is returned when the secrets file cannot be authenticated.
var ErrWrongPassword = errors.New("decryption failed (wrong password or corrupted file)")

//nolint:gochecknoglobals // in-memory decrypted secrets
var (
	decryptedSecrets    map[string]string
	decryptedSecretsMux sync.RWMutex
)

// SecretsPath returns the location of the encrypted secrets file.
func SecretsPath(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, SecretsFileName)
}

// SetDecryptedSecrets replaces the in-memory secrets.
func SetDecryptedSecrets(secrets map[string]string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	decryptedSecrets = secrets
}

// GetSecret looks a secret up in the decrypted vault, then in the environment.
func GetSecret(name string) (string, error) {
	decryptedSecretsMux.RLock()
	value := decryptedSecrets[name]
	decryptedSecretsMux.RUnlock()
	if value != "" {
		return value, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SecretNames returns the sorted names held in memory.
func SecretNames() []string {
	decryptedSecretsMux.RLock()
	defer decryptedSecretsMux.RUnlock()
	names := make([]string, 0, len(decryptedSecrets))
	for name := range decryptedSecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSecret stores a secret in memory. Call SaveSecretsToFile to persist it.
func SetSecret(name, value string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	if decryptedSecrets == nil {
		decryptedSecrets = make(map[string]string)
	}
	decryptedSecrets[name] = value
}

// DeleteSecret removes a secret from memory.
func DeleteSecret(name string) {
	decryptedSecretsMux.Lock()
	defer decryptedSecretsMux.Unlock()
	delete(decryptedSecrets, name)
}

// SecretsFileExists reports whether the project has an encrypted secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(SecretsPath(dir))
	return err == nil
}

// SaveSecretsToFile encrypts the in-memory secrets into the project directory.
func SaveSecretsToFile(dir, password string) error {
	decryptedSecretsMux.RLock()
	secretsCopy := make(map[string]string, len(decryptedSecrets))
	for k, v := range decryptedSecrets {
		secretsCopy[k] = v
	}
	decryptedSecretsMux.RUnlock()
	return EncryptSecretsFile(dir, password, secretsCopy)
}

// LoadSecretsFile decrypts the project's secrets into memory. A missing file is not an error.
func LoadSecretsFile(dir, password string) error {
	if !SecretsFileExists(dir) {
		return nil
	}
	secrets, err := DecryptSecretsFile(dir, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(password, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecretsFile writes secrets to .patchmind/secrets.json.enc with mode 0600.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passwordBytes, salt)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	defer zero(plaintext)

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0o755); err != nil {
		return fmt.Errorf("create %s directory: %w", ProjectConfigDir, err)
	}
	if err := os.WriteFile(SecretsPath(dir), fileData, 0o600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts .patchmind/secrets.json.enc. Loose permissions are
// tightened to 0600 with a warning.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := SecretsPath(dir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0o600 {
		logger.Warn("secrets file has permissions %04o, resetting to 0600", info.Mode().Perm())
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("fix secrets file permissions: %w", err)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+gcmTagSize {
		return nil, fmt.Errorf("secrets file is corrupted (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	gcm, err := newGCM(passwordBytes, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer zero(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return secrets, nil
}
