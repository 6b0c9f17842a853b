package vault

import (
	"fmt"

	"github.com/99designs/keyring"
)

const (
	serviceName   = "rainfeed"
	passphraseKey = "master-passphrase"
)

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/rainfeed/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("rainfeed-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// RememberPassphrase stores the master passphrase in the OS keyring so the
// unlock prompt can be skipped on the next start. Opt-in via config; the
// settings file itself never holds the passphrase.
func RememberPassphrase(passphrase string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  passphraseKey,
		Data: []byte(passphrase),
	})
	if err != nil {
		return fmt.Errorf("storing passphrase in keyring: %w", err)
	}
	return nil
}

// RecallPassphrase retrieves a previously remembered passphrase. A missing
// entry is reported as an error by the backend.
func RecallPassphrase() (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(passphraseKey)
	if err != nil {
		return "", fmt.Errorf("reading passphrase from keyring: %w", err)
	}
	return string(item.Data), nil
}

// ForgetPassphrase removes the remembered passphrase from the OS keyring.
func ForgetPassphrase() error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Remove(passphraseKey); err != nil {
		return fmt.Errorf("removing passphrase from keyring: %w", err)
	}
	return nil
}
