package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

const (
	runFileExt   = ".json"
	backupSuffix = ".backup"
)

// JSONStore keeps one JSON file per run.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a file based history store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_history_store"),
	}, nil
}

// Load reads a run, falling back to its backup when the file is corrupt.
func (s *JSONStore) Load(runID string) (*models.CheckRun, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(runID)
}

func (s *JSONStore) load(runID string) (*models.CheckRun, error) {
	path := s.runPath(runID)

	s.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"path":   path,
	}).Debug("Loading run")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}

	run, err := decodeRun(data)
	if err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Error("Run file corrupt")

		if run, berr := s.loadBackup(runID); berr == nil {
			s.logger.Warn("Loaded run from backup due to corruption")
			return run, nil
		}
		return nil, ErrStateCorrupt
	}

	return run, nil
}

// Save writes a run atomically, keeping the previous version as a backup.
func (s *JSONStore) Save(run *models.CheckRun) error {
	if err := validRunID(run.RunID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runPath(run.RunID)

	s.logger.WithFields(map[string]interface{}{
		"run_id":  run.RunID,
		"repairs": len(run.Repairs),
	}).Debug("Saving run")

	data, err := encodeRun(run)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+backupSuffix); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename run file: %w", err)
	}

	return nil
}

// Delete removes a run and its backup.
func (s *JSONStore) Delete(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runPath(runID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrRunNotFound
		}
		return fmt.Errorf("remove run file: %w", err)
	}
	_ = os.Remove(path + backupSuffix)

	s.logger.WithField("run_id", runID).Info("Deleted run")
	return nil
}

// List returns the readable runs, newest first. Corrupt files are skipped.
func (s *JSONStore) List(vaultPath string, limit int) ([]*models.CheckRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	var runs []*models.CheckRun
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != runFileExt {
			continue
		}

		run, err := s.load(strings.TrimSuffix(name, runFileExt))
		if err != nil {
			s.logger.WithError(err).WithField("file", name).Warn("Skipping unreadable run")
			continue
		}

		if vaultPath != "" && run.VaultPath != vaultPath {
			continue
		}
		runs = append(runs, run)
	}

	return sortRuns(runs, limit), nil
}

// Migrate copies all runs into target.
func (s *JSONStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) runPath(runID string) string {
	return filepath.Join(s.baseDir, runID+runFileExt)
}

func (s *JSONStore) loadBackup(runID string) (*models.CheckRun, error) {
	data, err := os.ReadFile(s.runPath(runID) + backupSuffix)
	if err != nil {
		return nil, err
	}
	return decodeRun(data)
}

// encodeRun wraps a run with schema metadata and a checksum over the
// wrapper without its checksum field.
func encodeRun(run *models.CheckRun) ([]byte, error) {
	wrapper := StoredRun{
		CheckRun:      run,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}

	sum, err := checksum(wrapper)
	if err != nil {
		return nil, err
	}
	wrapper.Checksum = sum

	data, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	return data, nil
}

func decodeRun(data []byte) (*models.CheckRun, error) {
	var wrapper StoredRun
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if wrapper.CheckRun == nil || wrapper.RunID == "" {
		return nil, fmt.Errorf("%w: missing run", ErrStateCorrupt)
	}

	if wrapper.Checksum != "" {
		expected := wrapper.Checksum
		wrapper.Checksum = ""

		actual, err := checksum(wrapper)
		if err != nil {
			return nil, err
		}
		if actual != expected {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrStateCorrupt)
		}
	}

	if wrapper.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrStateCorrupt, wrapper.SchemaVersion)
	}

	return wrapper.CheckRun, nil
}

func checksum(wrapper StoredRun) (string, error) {
	wrapper.Checksum = ""

	data, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("marshal run for checksum: %w", err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
