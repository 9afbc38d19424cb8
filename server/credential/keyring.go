package credential

import (
	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

const (
	// ServiceName groups the relay's secrets in the OS keyring.
	ServiceName = "raid-relay"

	// BotTokenKey holds the Telegram bot token.
	BotTokenKey = "telegram-bot-token"

	// WebhookURLKey holds the webhook URL, which embeds its own secret.
	WebhookURLKey = "webhook-url"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = keyring.ErrKeyNotFound

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the OS keyring, falling back to an encrypted file under fileDir.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("raid-relay-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open keyring")
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get credential %q", key)
	}
	return string(item.Data), nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: ServiceName + " " + key,
	})
	return errors.Wrapf(err, "failed to set credential %q", key)
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	return errors.Wrapf(s.ring.Remove(key), "failed to delete credential %q", key)
}

// Resolve returns explicit when it is set, otherwise the value stored under key.
// A missing key resolves to the empty string.
func (s *Store) Resolve(explicit, key string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	value, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
