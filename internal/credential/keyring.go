package credential

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/nhle/emailflesh/internal/model"
)

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Store keeps IMAP app passwords in the system keyring, keyed by account.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the platform keyring, falling back to an
// encrypted file under the app data directory.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: model.AppName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(model.DataDir(), "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(model.AppName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring, e.g. keyring.NewArrayKeyring in tests.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func itemKey(account string) string {
	return "imap:" + account
}

// Get retrieves the password stored for account.
func (s *Store) Get(account string) (string, error) {
	item, err := s.ring.Get(itemKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential for %q: %w", account, err)
	}

	return string(item.Data), nil
}

// Set stores the password for account.
func (s *Store) Set(account, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         itemKey(account),
		Data:        []byte(password),
		Label:       model.AppName + " IMAP password for " + account,
		Description: "IMAP app password",
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", account, err)
	}

	return nil
}

// Delete removes the password for account. Missing entries report
// ErrNotFound.
func (s *Store) Delete(account string) error {
	err := s.ring.Remove(itemKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting credential for %q: %w", account, err)
	}

	return nil
}

// Resolve returns creds with the password filled from the keyring when it
// is empty. A missing entry leaves creds unchanged.
func (s *Store) Resolve(creds model.Credentials) (model.Credentials, error) {
	if creds.Password != "" || creds.Account == "" {
		return creds, nil
	}

	password, err := s.Get(creds.Account)
	if errors.Is(err, ErrNotFound) {
		return creds, nil
	}
	if err != nil {
		return creds, err
	}

	creds.Password = password
	return creds, nil
}
