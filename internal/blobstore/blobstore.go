// Package blobstore provides an embedded, bbolt-backed keyed byte store
// used by the assembler's large-regime spill path to persist SpillChunks
// without holding the whole assembled output in memory.
//
// The single-bucket, lazily-opened database shape is grounded on the
// SentryShot example's pkg/log/db.go: one bolt.DB, one unnamed bucket
// created on Init, Put/Get/Delete as the only operations. Unlike that
// log database, chunks are never aged out by key count; they are deleted
// explicitly once the assembler or output sink has consumed them.
package blobstore

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketName is the single unnamed object store for blobs described in §6.
var bucketName = []byte("blobs")

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blobstore: key not found")

// Store is an embedded keyed byte store. One Store wraps one bbolt
// database file; callers key blobs as "<job_id>_chunk_<ordinal>".
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures the blobs bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying bbolt database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores value under key, overwriting any existing value. Writing the
// same key twice is idempotent: the second write simply replaces the
// first, which is what lets a resumed job re-enter the assembler for an
// already-spilled ordinal and land bit-identical bytes.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		// Copy: bbolt's Put documentation requires the caller not retain
		// value after the transaction commits, but the reverse also holds
		// for our own retained slices, so we always hand bbolt a copy.
		stored := make([]byte, len(value))
		copy(stored, value)
		return b.Put([]byte(key), stored)
	})
}

// Get retrieves the value stored under key. Returns ErrNotFound if absent.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// DeletePrefix removes every key beginning with prefix, used to clear all
// spill chunks for a job in one pass once the sink has consumed them (or
// to unwind a cancelled or failed large-regime assembly).
func (s *Store) DeletePrefix(prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		p := []byte(prefix)
		var keys [][]byte
		for k, _ := c.Seek(p); k != nil && hasPrefix(k, p); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Keys returns every key currently beginning with prefix, in ascending
// order. Used by tests to confirm which spill chunks of a job remain.
func (s *Store) Keys(prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && hasPrefix(k, p); k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ChunkKey builds the stable key for one spill chunk, matching §3's
// "<job_id>_chunk_<ordinal>" format.
func ChunkKey(jobID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", jobID, ordinal)
}

// ChunkPrefix returns the key prefix shared by every chunk of a job, for
// use with DeletePrefix/Keys.
func ChunkPrefix(jobID string) string {
	return jobID + "_chunk_"
}
