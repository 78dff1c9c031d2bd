// Package recoveryterms implements qindex.RecoveryTerms on top of a single
// shared bbolt database, one bucket entry per queue directory name. bbolt
// is the same choice the rest of the broker's persistence layer makes for
// small, ACID key/value state (see internal/msgstore) — a second bbolt
// file here keeps the recovery marker crash-consistent with its own writes
// independent of whatever is happening to the larger segment files.
package recoveryterms

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketTerms = []byte("recovery_terms")

// Store is a bbolt-backed qindex.RecoveryTerms.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the recovery-terms database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("recoveryterms: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTerms)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recoveryterms: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Read implements qindex.RecoveryTerms.
func (s *Store) Read(dirName string) (map[string]any, bool, error) {
	var terms map[string]any
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketTerms).Get([]byte(dirName))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &terms)
	})
	if err != nil {
		return nil, false, fmt.Errorf("recoveryterms: read %s: %w", dirName, err)
	}
	return terms, found, nil
}

// Write implements qindex.RecoveryTerms.
func (s *Store) Write(dirName string, terms map[string]any) error {
	val, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("recoveryterms: marshal terms for %s: %w", dirName, err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTerms).Put([]byte(dirName), val)
	}); err != nil {
		return fmt.Errorf("recoveryterms: write %s: %w", dirName, err)
	}
	return nil
}

// Erase implements qindex.RecoveryTerms.
func (s *Store) Erase(dirName string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTerms).Delete([]byte(dirName))
	}); err != nil {
		return fmt.Errorf("recoveryterms: erase %s: %w", dirName, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
