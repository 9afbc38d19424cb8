package telegram

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

// StateStore persists backend state in the key/value store.
// All keys are scoped to the specific backend ID for isolation.
type StateStore struct {
	store     backend.KVStore
	backendID string
}

// NewStateStore creates a new state store for a specific backend
func NewStateStore(store backend.KVStore, backendID string) *StateStore {
	return &StateStore{
		store:     store,
		backendID: backendID,
	}
}

func (s *StateStore) key(name string) string {
	return fmt.Sprintf("backend_%s_%s", s.backendID, name)
}

// SaveCursor stores the offset of the next update to request
func (s *StateStore) SaveCursor(offset int64) error {
	return s.saveJSON("cursor", offset)
}

// GetCursor retrieves the stored offset. ok is false when no cursor has been stored yet.
func (s *StateStore) GetCursor() (offset int64, ok bool, err error) {
	ok, err = s.loadJSON("cursor", &offset)
	return offset, ok, err
}

// SaveLastPoll stores the timestamp of the last poll attempt
func (s *StateStore) SaveLastPoll(t time.Time) error {
	return s.saveJSON("last_poll", t)
}

// GetLastPoll retrieves the timestamp of the last poll attempt
// Returns zero time if no poll time is stored
func (s *StateStore) GetLastPoll() (time.Time, error) {
	var t time.Time
	_, err := s.loadJSON("last_poll", &t)
	return t, err
}

// SaveLastSuccess stores the timestamp of the last successful poll
func (s *StateStore) SaveLastSuccess(t time.Time) error {
	return s.saveJSON("last_success", t)
}

// GetLastSuccess retrieves the timestamp of the last successful poll
// Returns zero time if no success time is stored
func (s *StateStore) GetLastSuccess() (time.Time, error) {
	var t time.Time
	_, err := s.loadJSON("last_success", &t)
	return t, err
}

// IncrementFailures increments the consecutive failures counter and returns the new count
func (s *StateStore) IncrementFailures() (int, error) {
	count, err := s.GetFailures()
	if err != nil {
		return 0, err
	}

	count++
	if err := s.saveJSON("failures", count); err != nil {
		return 0, err
	}

	return count, nil
}

// ResetFailures resets the consecutive failures counter to zero
func (s *StateStore) ResetFailures() error {
	return s.saveJSON("failures", 0)
}

// GetFailures retrieves the current consecutive failures count
// Returns 0 if no count is stored
func (s *StateStore) GetFailures() (int, error) {
	var count int
	_, err := s.loadJSON("failures", &count)
	return count, err
}

// SaveLastError stores the error message from the most recent failure
func (s *StateStore) SaveLastError(errMsg string) error {
	if err := s.store.KVSet(s.key("last_error"), []byte(errMsg)); err != nil {
		return fmt.Errorf("failed to save last_error: %w", err)
	}
	return nil
}

// GetLastError retrieves the error message from the most recent failure
// Returns empty string if no error is stored
func (s *StateStore) GetLastError() (string, error) {
	data, err := s.store.KVGet(s.key("last_error"))
	if err != nil {
		return "", fmt.Errorf("failed to get last_error: %w", err)
	}
	return string(data), nil
}

// ClearCursor removes the stored cursor so the next start runs a catch-up.
func (s *StateStore) ClearCursor() error {
	if err := s.store.KVDelete(s.key("cursor")); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// ClearAll removes all state for this backend from the KV store
func (s *StateStore) ClearAll() error {
	for _, name := range []string{"cursor", "last_poll", "last_success", "failures", "last_error"} {
		if err := s.store.KVDelete(s.key(name)); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", s.key(name), err)
		}
	}
	return nil
}

func (s *StateStore) saveJSON(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	if err := s.store.KVSet(s.key(name), data); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	return nil
}

// loadJSON decodes the value stored under name into out. It reports false when nothing is stored.
func (s *StateStore) loadJSON(name string, out any) (bool, error) {
	data, err := s.store.KVGet(s.key(name))
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", name, err)
	}

	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}

	return true, nil
}
