// Package store provides the persistence layer for Portside on top of
// bbolt. All values are JSON blobs addressed by string keys; lists are
// stored as JSON arrays. There are no cross-key transactions: callers
// that maintain denormalized views write each key in sequence and accept
// eventual consistency between them.
//
// Key layout:
//
//	{id}_instance                canonical instance record
//	{userId}_instances           per-user instance list
//	instances                    global instance list
//	{nodeId}_node                node record
//	nodes                        node list
//	images                       image catalog
//	{username}_user              user record
//	users                        user list
//	audit_log                    audit entries
//	{containerId}_collaborators  extra user ids allowed on a container
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	bolt "go.etcd.io/bbolt"

	"github.com/portside/portside/internal/config"
)

// ErrKeyNotFound is returned when a key has no value in the store.
var ErrKeyNotFound = errors.New("key not found")

// bucketName is the single bucket holding all panel keys.
var bucketName = []byte("portside")

// Store is the key-value store backing the panel.
type Store struct {
	db     *bolt.DB
	config *config.Config
}

// debugLog logs a message only if debug mode is enabled in config
func (s *Store) debugLog(format string, args ...interface{}) {
	if s.config != nil && s.config.Server.Debug {
		log.Printf(format, args...)
	}
}

// Open opens (or creates) the bbolt database named by the configuration
// and ensures the panel bucket exists.
func Open(cfg *config.Config) (*Store, error) {
	db, err := bolt.Open(cfg.Store.Path, 0o600, &bolt.Options{
		Timeout: cfg.Store.OpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Store.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Store{db: db, config: cfg}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// getRaw returns the raw JSON blob stored under key.
func (s *Store) getRaw(key string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketName).Get([]byte(key))
		if value == nil {
			return ErrKeyNotFound
		}
		raw = make([]byte, len(value))
		copy(raw, value)
		return nil
	})
	return raw, err
}

// getJSON decodes the value stored under key into out.
func (s *Store) getJSON(key string, out interface{}) error {
	raw, err := s.getRaw(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode value for key %s: %w", key, err)
	}
	return nil
}

// putJSON stores value under key as a JSON blob.
func (s *Store) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), raw)
	})
}

// deleteKey removes key from the store. Deleting a missing key is not an
// error.
func (s *Store) deleteKey(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}
