package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// SQLiteStore keeps the run history in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger

	mu sync.Mutex
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_history_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS check_runs (
        run_id TEXT PRIMARY KEY,
        vault_path TEXT NOT NULL,
        mode TEXT NOT NULL,
        started_at TIMESTAMP NOT NULL,
        finished_at TIMESTAMP,
        last_error TEXT,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_check_runs_vault ON check_runs(vault_path, started_at);

    CREATE TABLE IF NOT EXISTS run_severities (
        run_id TEXT NOT NULL,
        severity TEXT NOT NULL,
        count INTEGER NOT NULL,
        PRIMARY KEY (run_id, severity),
        FOREIGN KEY (run_id) REFERENCES check_runs(run_id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS run_repairs (
        run_id TEXT NOT NULL,
        seq INTEGER NOT NULL,
        problem TEXT NOT NULL,
        error TEXT,
        PRIMARY KEY (run_id, seq),
        FOREIGN KEY (run_id) REFERENCES check_runs(run_id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_info (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	var version int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_info`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrStateCorrupt, version)
	}

	return nil
}

// Load retrieves a run with its severities and repairs.
func (s *SQLiteStore) Load(runID string) (*models.CheckRun, error) {
	s.logger.WithField("run_id", runID).Debug("Loading run from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return loadRun(tx, runID)
}

func loadRun(tx *sql.Tx, runID string) (*models.CheckRun, error) {
	run := models.CheckRun{
		RunID:      runID,
		Severities: make(map[string]int),
	}
	var finishedAt sql.NullTime
	var lastError sql.NullString

	err := tx.QueryRow(`
        SELECT vault_path, mode, started_at, finished_at, last_error
        FROM check_runs
        WHERE run_id = ?
    `, runID).Scan(&run.VaultPath, &run.Mode, &run.StartedAt, &finishedAt, &lastError)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	run.LastError = lastError.String

	rows, err := tx.Query(`
        SELECT severity, count
        FROM run_severities
        WHERE run_id = ?
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("query severities: %w", err)
	}
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan severity row: %w", err)
		}
		run.Severities[severity] = count
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(`
        SELECT problem, error
        FROM run_repairs
        WHERE run_id = ?
        ORDER BY seq
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("query repairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var record models.RepairRecord
		var recordErr sql.NullString
		if err := rows.Scan(&record.Problem, &recordErr); err != nil {
			return nil, fmt.Errorf("scan repair row: %w", err)
		}
		record.Error = recordErr.String
		run.Repairs = append(run.Repairs, record)
	}

	return &run, rows.Err()
}

// Save writes a run in a single transaction.
func (s *SQLiteStore) Save(run *models.CheckRun) error {
	if err := validRunID(run.RunID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"run_id":  run.RunID,
		"repairs": len(run.Repairs),
	}).Debug("Saving run to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}
	var lastError sql.NullString
	if run.LastError != "" {
		lastError = sql.NullString{String: run.LastError, Valid: true}
	}

	_, err = tx.Exec(`
        INSERT INTO check_runs (run_id, vault_path, mode, started_at, finished_at, last_error)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id) DO UPDATE SET
            vault_path = excluded.vault_path,
            mode = excluded.mode,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            last_error = excluded.last_error
    `, run.RunID, run.VaultPath, run.Mode, run.StartedAt, finishedAt, lastError)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM run_severities WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("clear severities: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM run_repairs WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("clear repairs: %w", err)
	}

	if len(run.Severities) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_severities (run_id, severity, count) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare severity insert: %w", err)
		}
		defer stmt.Close()

		for severity, count := range run.Severities {
			if _, err := stmt.Exec(run.RunID, severity, count); err != nil {
				return fmt.Errorf("insert severity %s: %w", severity, err)
			}
		}
	}

	if len(run.Repairs) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_repairs (run_id, seq, problem, error) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare repair insert: %w", err)
		}
		defer stmt.Close()

		for i, record := range run.Repairs {
			var recordErr sql.NullString
			if record.Error != "" {
				recordErr = sql.NullString{String: record.Error, Valid: true}
			}
			if _, err := stmt.Exec(run.RunID, i, record.Problem, recordErr); err != nil {
				return fmt.Errorf("insert repair %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Delete removes a run. Severities and repairs cascade.
func (s *SQLiteStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM check_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}

	s.logger.WithField("run_id", runID).Info("Deleted run")
	return nil
}

// List returns runs newest first.
func (s *SQLiteStore) List(vaultPath string, limit int) ([]*models.CheckRun, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if limit <= 0 {
		limit = -1
	}

	rows, err := tx.Query(`
        SELECT run_id
        FROM check_runs
        WHERE ? = '' OR vault_path = ?
        ORDER BY started_at DESC, run_id ASC
        LIMIT ?
    `, vaultPath, vaultPath, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	runs := make([]*models.CheckRun, 0, len(ids))
	for _, id := range ids {
		run, err := loadRun(tx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return sortRuns(runs, limit), nil
}

// Migrate copies all runs into target.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
