package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/bdubertret/quidx/internal/msgstore"
	"github.com/bdubertret/quidx/internal/recoveryterms"
)

const (
	recoveryTermsFileName = "_recovery_terms.db"
	msgStoreFileName      = "_msgstore.db"
)

func openCollaborators(dataDir string) (*recoveryterms.Store, *msgstore.Store, error) {
	terms, err := recoveryterms.Open(filepath.Join(dataDir, recoveryTermsFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("open recovery terms: %w", err)
	}
	store, err := msgstore.Open(filepath.Join(dataDir, msgStoreFileName))
	if err != nil {
		_ = terms.Close()
		return nil, nil, fmt.Errorf("open message store: %w", err)
	}
	return terms, store, nil
}
