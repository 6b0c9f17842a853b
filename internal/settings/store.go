// Package settings persists account configuration as a tagged-record YAML
// file: one master record carrying the passphrase verification digest, and
// a sequence of account records. Credential fields are encrypted by the
// vault before they reach disk; host and protocol are deliberately stored
// in the clear so a settings file is inspectable without unlocking.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/vault"
)

// accountRecord is the on-disk shape of one account. The user and pass
// fields hold vault ciphertext, never plaintext.
type accountRecord struct {
	Host string `mapstructure:"host" yaml:"host"`
	Prot string `mapstructure:"prot" yaml:"prot"`
	User string `mapstructure:"user" yaml:"user"`
	Pass string `mapstructure:"pass" yaml:"pass"`
}

// masterRecord is the on-disk shape of the vault master record. An empty
// digest means no passphrase has ever been set.
type masterRecord struct {
	Digest string `mapstructure:"digest" yaml:"digest"`
	Salt   string `mapstructure:"salt" yaml:"salt"`
}

type settingsFile struct {
	Master   masterRecord    `mapstructure:"master"`
	Accounts []accountRecord `mapstructure:"accounts"`
}

// Store reads and writes the settings file, delegating all credential
// encryption to the vault.
type Store struct {
	path  string
	vault *vault.Vault
}

// NewStore creates a settings store backed by the file at path.
func NewStore(path string, v *vault.Vault) *Store {
	return &Store{path: path, vault: v}
}

// ReadMaster loads only the master record from the settings file, so the
// vault can be restored before anything is decrypted. A missing or
// unparseable file yields an empty record, not an error.
func ReadMaster(path string) (digest string, salt string) {
	file := readFile(path)
	if file == nil {
		return "", ""
	}
	return file.Master.Digest, file.Master.Salt
}

// Save writes the master record and all account records. While the vault
// is locked this is a silent no-op: a user who never set a passphrase gets
// no persistence and no nagging, matching the unlock gate in the vault.
func (s *Store) Save(accounts []model.AccountSettings) error {
	if !s.vault.Unlocked() {
		return nil
	}

	records := make([]map[string]string, 0, len(accounts))
	for _, account := range accounts {
		user, err := s.vault.EncryptField(account.Username)
		if err != nil {
			return fmt.Errorf("encrypting username for %s: %w", account.Host, err)
		}
		pass, err := s.vault.EncryptField(account.Password)
		if err != nil {
			return fmt.Errorf("encrypting password for %s: %w", account.Host, err)
		}
		records = append(records, map[string]string{
			"host": account.Host,
			"prot": string(account.Protocol),
			"user": user,
			"pass": pass,
		})
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating settings directory %s: %w", dir, err)
	}

	digest, salt := s.vault.MasterRecord()

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")
	v.Set("master.digest", digest)
	v.Set("master.salt", salt)
	v.Set("accounts", records)

	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("writing settings to %s: %w", s.path, err)
	}
	return nil
}

// Load reads the account records and decrypts their credential fields with
// the current session key. A missing file is a first run and yields an
// empty slice.
func (s *Store) Load() ([]model.AccountSettings, error) {
	file := readFile(s.path)
	if file == nil || len(file.Accounts) == 0 {
		return nil, nil
	}

	accounts := make([]model.AccountSettings, 0, len(file.Accounts))
	for _, rec := range file.Accounts {
		protocol, err := model.ParseProtocol(rec.Prot)
		if err != nil {
			return nil, fmt.Errorf("account record for %s: %w", rec.Host, err)
		}
		username, err := s.vault.DecryptField(rec.User)
		if err != nil {
			return nil, fmt.Errorf("decrypting username for %s: %w", rec.Host, err)
		}
		password, err := s.vault.DecryptField(rec.Pass)
		if err != nil {
			return nil, fmt.Errorf("decrypting password for %s: %w", rec.Host, err)
		}
		accounts = append(accounts, model.AccountSettings{
			Host:     rec.Host,
			Protocol: protocol,
			Username: username,
			Password: password,
		})
	}
	return accounts, nil
}

// readFile parses the settings file. Missing or unparseable files are
// treated as "nothing persisted" and reported as nil.
func readFile(path string) *settingsFile {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil
	}

	var file settingsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil
	}
	return &file
}
