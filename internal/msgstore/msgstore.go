// Package msgstore is a reference implementation of qindex.MessageStore: a
// bbolt-backed content store for message bodies that a queue index chose
// not to embed, keyed by message id and reference-counted across queues
// (a message published to more than one queue, e.g. via a fanout exchange
// upstream of the index, shares one stored body).
//
// A production broker is free to swap in a different MessageStore; this
// one exists so internal/inspect and cmd/quidx-inspect have something real
// to recover and inspect against, with reference counts (SetRefCount) that
// the walker's aggregated counts (internal/walker) can be written back to.
// No command in this repository performs that write-back.
package msgstore

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketBodies = []byte("bodies")
	bucketRefs   = []byte("refs")
)

// Store is a bbolt-backed content-addressed message body store with
// reference counting.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the message store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("msgstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBodies); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRefs)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("msgstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Contains implements qindex.MessageStore.
func (s *Store) Contains(msgID [16]byte) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBodies).Get(msgID[:]) != nil
		return nil
	})
	return found, err
}

// Write stores body under msgID and sets its reference count to refCount
// (used on first publish; SetRefCount adjusts it afterward).
func (s *Store) Write(msgID [16]byte, body []byte, refCount int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBodies).Put(msgID[:], body); err != nil {
			return err
		}
		return tx.Bucket(bucketRefs).Put(msgID[:], encodeCount(refCount))
	})
}

// Read retrieves the stored body for msgID.
func (s *Store) Read(msgID [16]byte) ([]byte, bool, error) {
	var body []byte
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketBodies).Get(msgID[:])
		if val == nil {
			return nil
		}
		found = true
		body = append([]byte(nil), val...)
		return nil
	})
	return body, found, err
}

// SetRefCount overwrites the stored reference count for msgID, e.g. with a
// count from the walker's (internal/walker) aggregated RefCounts after a
// start-up scan. Nothing outside this package's tests calls it.
// A count of zero deletes both the body and the count entry.
func (s *Store) SetRefCount(msgID [16]byte, count int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if count <= 0 {
			if err := tx.Bucket(bucketBodies).Delete(msgID[:]); err != nil {
				return err
			}
			return tx.Bucket(bucketRefs).Delete(msgID[:])
		}
		return tx.Bucket(bucketRefs).Put(msgID[:], encodeCount(count))
	})
}

// RefCount returns the stored reference count for msgID, or 0 if unknown.
func (s *Store) RefCount(msgID [16]byte) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRefs).Get(msgID[:])
		if val == nil {
			return nil
		}
		count = decodeCount(val)
		return nil
	})
	return count, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeCount(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeCount(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf))
}
