package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecrets(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		EnvAnthropicAPIKey:    "sk-ant-test",
		EnvGoogleSearchAPIKey: "g-key",
		EnvGoogleSearchCX:     "g-cx",
	}

	require.NoError(t, EncryptSecretsFile(dir, "correct horse", secrets))
	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	decrypted, err := DecryptSecretsFile(dir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}))

	_, err := DecryptSecretsFile(dir, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestDecryptCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "1"}))
	require.NoError(t, os.WriteFile(SecretsPath(dir), []byte("short"), 0o600))

	_, err := DecryptSecretsFile(dir, "pw")
	assert.Error(t, err)
}

func TestDecryptFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "1"}))
	require.NoError(t, os.Chmod(SecretsPath(dir), 0o644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveAndLoadSecrets(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	dir := t.TempDir()

	SetDecryptedSecrets(nil)
	require.NoError(t, LoadSecretsFile(dir, "pw"), "missing file is fine")

	SetSecret("B_TOKEN", "b")
	SetSecret("A_TOKEN", "a")
	require.NoError(t, SaveSecretsToFile(dir, "pw"))
	assert.Equal(t, []string{"A_TOKEN", "B_TOKEN"}, SecretNames())

	SetDecryptedSecrets(nil)
	require.NoError(t, LoadSecretsFile(dir, "pw"))
	value, err := GetSecret("A_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "a", value)

	DeleteSecret("A_TOKEN")
	t.Setenv("A_TOKEN", "")
	_, err = GetSecret("A_TOKEN")
	assert.Error(t, err)
}
