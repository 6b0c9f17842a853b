// Package vault holds the passphrase-derived symmetric key that gates all
// credential persistence. The key lives only in memory and only while the
// vault is unlocked; durable storage ever sees ciphertext and a one-way
// verification digest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrBlankPassphrase is returned by SetPassphrase for an empty passphrase.
var ErrBlankPassphrase = errors.New("vault: passphrase must not be blank")

// ErrLocked is returned by cryptographic operations while no session key
// is held.
var ErrLocked = errors.New("vault: locked")

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// Vault derives and holds the session encryption key. The zero value is a
// locked vault with no master record; use Restore to adopt a persisted
// record.
type Vault struct {
	mu     sync.Mutex
	digest []byte // sha256 over the derived key, nil on first run
	salt   []byte
	key    []byte // session key, nil while locked
}

// New returns a locked vault with no master record ("first run").
func New() *Vault {
	return &Vault{}
}

// Restore returns a locked vault initialized from a persisted master
// record. An empty digest behaves like a first run.
func Restore(digest string, salt string) (*Vault, error) {
	v := &Vault{}
	if digest == "" {
		return v, nil
	}

	d, err := base64.StdEncoding.DecodeString(digest)
	if err != nil {
		return nil, fmt.Errorf("decoding master digest: %w", err)
	}
	s, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decoding master salt: %w", err)
	}

	v.digest = d
	v.salt = s
	return v, nil
}

// deriveKey stretches a passphrase into an AES-256 key.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, keySize)
}

// makeVerifier produces the stored digest for a derived key. The digest
// verifies a passphrase without revealing the key.
func makeVerifier(key []byte) []byte {
	h := sha256.Sum256(key)
	return h[:]
}

// SetPassphrase establishes a new master passphrase: fresh salt, fresh
// digest, vault unlocked with the new session key. This is the only path
// that creates a usable master record; first-run setup and
// change-passphrase are the same operation.
func (v *Vault) SetPassphrase(passphrase string) error {
	if passphrase == "" {
		return ErrBlankPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating vault salt: %w", err)
	}

	key := deriveKey(passphrase, salt)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.salt = salt
	v.key = key
	v.digest = makeVerifier(key)
	return nil
}

// Unlock verifies the passphrase against the stored digest. On success the
// derived key is retained for the session and true is returned; otherwise
// the vault stays locked and false is returned. A vault without a master
// record cannot be unlocked.
func (v *Vault) Unlock(passphrase string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.digest) == 0 {
		return false
	}

	key := deriveKey(passphrase, v.salt)
	if subtle.ConstantTimeCompare(makeVerifier(key), v.digest) != 1 {
		return false
	}

	v.key = key
	return true
}

// Unlocked reports whether a session key is currently held.
func (v *Vault) Unlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key != nil
}

// Lock discards the session key. The master record is kept, so Unlock
// works again afterwards.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = nil
}

// MasterRecord exports the persistable master record. The digest is empty
// until SetPassphrase has been called at least once.
func (v *Vault) MasterRecord() (digest string, salt string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.digest) == 0 {
		return "", ""
	}
	return base64.StdEncoding.EncodeToString(v.digest),
		base64.StdEncoding.EncodeToString(v.salt)
}

// EncryptField encrypts one settings field with the session key using
// AES-GCM. The random nonce is prepended to the ciphertext and the whole
// value is base64 encoded for the tagged-record file.
func (v *Vault) EncryptField(plaintext string) (string, error) {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()

	if key == nil {
		return "", ErrLocked
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField with the current session key.
func (v *Vault) DecryptField(encoded string) (string, error) {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()

	if key == nil {
		return "", ErrLocked
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding encrypted field: %w", err)
	}
	if len(sealed) < nonceSize {
		return "", errors.New("vault: encrypted field too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing GCM: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting field: %w", err)
	}
	return string(plaintext), nil
}
