package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/settings"
	"github.com/nhle/rainfeed/internal/vault"
)

func testAccount() model.AccountSettings {
	return model.AccountSettings{
		Host:     "mail.example.com",
		Protocol: model.ProtocolIMAPS,
		Username: "alice",
		Password: "tops3cret",
	}
}

func unlockedVault(t *testing.T) *vault.Vault {
	t.Helper()
	v := vault.New()
	require.NoError(t, v.SetPassphrase("master-pass"))
	return v
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := settings.NewStore(path, unlockedVault(t))

	require.NoError(t, store.Save([]model.AccountSettings{testAccount()}))

	accounts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, testAccount(), accounts[0])
}

func TestSaveNeverWritesPlaintextCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := settings.NewStore(path, unlockedVault(t))

	require.NoError(t, store.Save([]model.AccountSettings{testAccount()}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tops3cret")
	assert.NotContains(t, string(raw), "alice")
	// Host and protocol are deliberately readable.
	assert.Contains(t, string(raw), "mail.example.com")
	assert.Contains(t, string(raw), "imaps")
}

func TestSaveIsNoOpWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := settings.NewStore(path, vault.New())

	require.NoError(t, store.Save([]model.AccountSettings{testAccount()}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFileIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := settings.NewStore(path, unlockedVault(t))

	accounts, err := store.Load()

	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestLoadToleratesUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0o600))
	store := settings.NewStore(path, unlockedVault(t))

	accounts, err := store.Load()

	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestReadMasterSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	v := unlockedVault(t)
	store := settings.NewStore(path, v)
	require.NoError(t, store.Save([]model.AccountSettings{testAccount()}))

	// Simulate a restart: rebuild the vault from the persisted master
	// record, unlock, and reload.
	digest, salt := settings.ReadMaster(path)
	require.NotEmpty(t, digest)

	restored, err := vault.Restore(digest, salt)
	require.NoError(t, err)
	require.True(t, restored.Unlock("master-pass"))

	accounts, err := settings.NewStore(path, restored).Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "tops3cret", accounts[0].Password)
}

func TestReadMasterMissingFile(t *testing.T) {
	digest, salt := settings.ReadMaster(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Empty(t, digest)
	assert.Empty(t, salt)
}

func TestLoadWhileLockedFailsForEncryptedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	v := unlockedVault(t)
	store := settings.NewStore(path, v)
	require.NoError(t, store.Save([]model.AccountSettings{testAccount()}))

	v.Lock()
	_, err := store.Load()

	assert.ErrorIs(t, err, vault.ErrLocked)
}
