package memory

import (
	"context"
	"sync"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
)

// Store keeps deployment records in process memory. Records are never
// evicted; the map grows for the lifetime of the process.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.DeploymentRecord
}

var _ repository.DeploymentStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]domain.DeploymentRecord)}
}

// Get returns the record for task or repository.ErrNotFound.
func (s *Store) Get(_ context.Context, task string) (domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[task]
	if !ok {
		return domain.DeploymentRecord{}, repository.ErrNotFound
	}
	return copyRecord(rec), nil
}

// Put overwrites the record for task.
func (s *Store) Put(_ context.Context, task string, record domain.DeploymentRecord) error {
	s.mu.Lock()
	s.records[task] = copyRecord(record)
	s.mu.Unlock()
	return nil
}

// Len reports how many tasks have a record.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(rec domain.DeploymentRecord) domain.DeploymentRecord {
	if rec.Result != nil {
		result := *rec.Result
		rec.Result = &result
	}
	return rec
}
