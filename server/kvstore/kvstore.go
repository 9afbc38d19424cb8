package kvstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// stateBucket holds every key the relay persists.
var stateBucket = []byte("state")

// Store is a small key/value store backed by a bbolt file. It survives restarts so sources can
// resume from their stored cursor.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create state directory %s", dir)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open state file %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create state bucket")
	}

	return &Store{db: db}, nil
}

// KVGet returns the value stored under key, or nil when the key does not exist.
func (s *Store) KVGet(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(stateBucket).Get([]byte(key))
		if stored != nil {
			// bbolt values are only valid for the life of the transaction.
			value = append([]byte(nil), stored...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key %s", key)
	}

	return value, nil
}

// KVSet stores value under key.
func (s *Store) KVSet(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), value)
	})
	return errors.Wrapf(err, "failed to write key %s", key)
}

// KVDelete removes key. Deleting a missing key is not an error.
func (s *Store) KVDelete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete([]byte(key))
	})
	return errors.Wrapf(err, "failed to delete key %s", key)
}

// Path returns the location of the store file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close releases the store file.
func (s *Store) Close() error {
	return s.db.Close()
}
