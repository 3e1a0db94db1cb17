package state

import (
	"sync"

	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// MemoryStore keeps runs in memory. It backs the "none" history backend.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*models.CheckRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*models.CheckRun),
	}
}

// Save stores a copy of run.
func (m *MemoryStore) Save(run *models.CheckRun) error {
	if err := validRunID(run.RunID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.RunID] = run.Clone()
	return nil
}

// Load returns a copy of the stored run.
func (m *MemoryStore) Load(runID string) (*models.CheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// List returns runs newest first.
func (m *MemoryStore) List(vaultPath string, limit int) ([]*models.CheckRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []*models.CheckRun
	for _, run := range m.runs {
		if vaultPath != "" && run.VaultPath != vaultPath {
			continue
		}
		runs = append(runs, run.Clone())
	}
	return sortRuns(runs, limit), nil
}

// Delete removes a run.
func (m *MemoryStore) Delete(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return ErrRunNotFound
	}
	delete(m.runs, runID)
	return nil
}

// Migrate copies all runs into target.
func (m *MemoryStore) Migrate(target Store) error {
	return migrate(m, target, events.Discard())
}

// Close releases resources.
func (m *MemoryStore) Close() error {
	return nil
}
