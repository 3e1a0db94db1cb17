package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/TheMichaelB/vaultcheck/internal/config"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// Store persists the history of check runs.
type Store interface {
	// Save creates or replaces a run record.
	Save(run *models.CheckRun) error

	// Load returns the run with the given id.
	Load(runID string) (*models.CheckRun, error)

	// List returns runs newest first. An empty vaultPath lists all vaults.
	// A limit of zero or less returns every run.
	List(vaultPath string, limit int) ([]*models.CheckRun, error)

	// Delete removes a run record.
	Delete(runID string) error

	// Migrate copies every run into another store.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// Common errors
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrStateCorrupt = errors.New("state corrupted")
	ErrInvalidRunID = errors.New("invalid run id")
)

// StoredRun wraps a run with metadata for the file backend.
type StoredRun struct {
	*models.CheckRun
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Backend names.
const (
	BackendNone   = "none"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open creates the history store selected by cfg.
func Open(cfg config.HistoryConfig, logger *events.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendJSON:
		return NewJSONStore(cfg.Path, logger)
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path, logger)
	case BackendNone, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}

// validRunID rejects ids that would escape a store directory.
func validRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || filepath.Base(runID) != runID {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

// sortRuns orders runs newest first, then by id, and applies limit.
func sortRuns(runs []*models.CheckRun, limit int) []*models.CheckRun {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

// migrate copies all runs of source into target.
func migrate(source, target Store, logger *events.Logger) error {
	runs, err := source.List("", 0)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	logger.WithField("count", len(runs)).Info("Migrating runs")

	for _, run := range runs {
		if err := target.Save(run); err != nil {
			return fmt.Errorf("save run %s: %w", run.RunID, err)
		}
		logger.WithField("run_id", run.RunID).Debug("Migrated run")
	}

	return nil
}
