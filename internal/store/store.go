// Package store persists application history as a single JSON file with
// whole-file atomic replacement. Concurrent access within a process is
// serialized with a mutex; the file is the source of truth between runs.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/types"
)

// Store manages the application history file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store backed by the given file path. The file is created
// lazily on first append; an absent file reads as an empty history.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// StatusUpdate carries the mutable fields of an application record. Nil
// pointers leave the corresponding field untouched.
type StatusUpdate struct {
	Applied *bool
	JobLink *string
	Notes   *string
	Company *string
}

// Append persists a new record and returns it with its assigned ID.
// IDs are one greater than the highest ever seen, so deleting the latest
// record never causes reuse within the surviving history.
func (s *Store) Append(record types.ApplicationRecord) (types.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return types.ApplicationRecord{}, err
	}

	var maxID int64
	for _, r := range records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	record.ID = maxID + 1
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	records = append(records, record)
	if err := s.save(records); err != nil {
		return types.ApplicationRecord{}, err
	}

	return record, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id int64) (types.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return types.ApplicationRecord{}, err
	}

	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}

	return types.ApplicationRecord{}, rterrors.NewStoreError(rterrors.ErrCodeNotFound,
		fmt.Sprintf("No application with id %d", id), nil)
}

// ListAll returns every record in creation order.
func (s *Store) ListAll() ([]types.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// UpdateStatus mutates the allowed status fields of a record. Marking an
// unapplied record as applied stamps AppliedAt; marking it unapplied clears
// the stamp. Identity and artifact fields are never touched.
func (s *Store) UpdateStatus(id int64, update StatusUpdate) (types.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return types.ApplicationRecord{}, err
	}

	idx := -1
	for i, r := range records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.ApplicationRecord{}, rterrors.NewStoreError(rterrors.ErrCodeNotFound,
			fmt.Sprintf("No application with id %d", id), nil)
	}

	record := records[idx]
	if update.Applied != nil && *update.Applied != record.Applied {
		record.Applied = *update.Applied
		if record.Applied {
			now := time.Now().UTC()
			record.AppliedAt = &now
		} else {
			record.AppliedAt = nil
		}
	}
	if update.JobLink != nil {
		record.JobLink = *update.JobLink
	}
	if update.Notes != nil {
		record.Notes = *update.Notes
	}
	if update.Company != nil {
		record.Company = *update.Company
	}

	records[idx] = record
	if err := s.save(records); err != nil {
		return types.ApplicationRecord{}, err
	}

	return record, nil
}

func (s *Store) load() ([]types.ApplicationRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.ApplicationRecord{}, nil
		}
		return nil, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to read application history", err)
	}

	if len(data) == 0 {
		return []types.ApplicationRecord{}, nil
	}

	var records []types.ApplicationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Application history file is corrupt", err)
	}

	return records, nil
}

// save writes the full record set to a sibling temp file, fsyncs it, and
// renames it over the history file. Readers never observe a partial write.
func (s *Store) save(records []types.ApplicationRecord) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
				"Failed to create application history directory", err)
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to encode application history", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".applications-*.json")
	if err != nil {
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to create temp file for application history", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to write application history", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to sync application history", err)
	}
	if err := tmp.Close(); err != nil {
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to close application history temp file", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to replace application history", err)
	}

	return nil
}
