package models

import (
	"fmt"
	"strings"
	"time"
)

// Check modes.
const (
	ModeShallow = "check"
	ModeDeep    = "deepcheck"
)

// RepairRecord is the persisted result of one attempted solution.
type RepairRecord struct {
	Problem string `json:"problem"`
	Error   string `json:"error,omitempty"`
}

// Succeeded reports whether the solution applied cleanly.
func (r RepairRecord) Succeeded() bool {
	return r.Error == ""
}

// CheckRun records one invocation of the checker against a vault.
type CheckRun struct {
	RunID      string         `json:"run_id"`
	VaultPath  string         `json:"vault_path"`
	Mode       string         `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Severities map[string]int `json:"severities"` // Severity name -> count
	Repairs    []RepairRecord `json:"repairs,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

// NewCheckRun creates an unfinished run record.
func NewCheckRun(runID, vaultPath, mode string) *CheckRun {
	return &CheckRun{
		RunID:      runID,
		VaultPath:  vaultPath,
		Mode:       mode,
		StartedAt:  time.Now().UTC(),
		Severities: make(map[string]int),
	}
}

// CountSeverity adds n problems of the given severity.
func (r *CheckRun) CountSeverity(severity string, n int) {
	if r.Severities == nil {
		r.Severities = make(map[string]int)
	}
	r.Severities[severity] += n
}

// ProblemCount returns the number of problems that are not informational.
func (r *CheckRun) ProblemCount() int {
	total := 0
	for severity, n := range r.Severities {
		if severity == "INFO" {
			continue
		}
		total += n
	}
	return total
}

// AddRepair records a solution outcome.
func (r *CheckRun) AddRepair(problem string, err error) {
	record := RepairRecord{Problem: problem}
	if err != nil {
		record.Error = err.Error()
	}
	r.Repairs = append(r.Repairs, record)
}

// Unresolved returns the repairs that failed.
func (r *CheckRun) Unresolved() []RepairRecord {
	var failed []RepairRecord
	for _, rec := range r.Repairs {
		if !rec.Succeeded() {
			failed = append(failed, rec)
		}
	}
	return failed
}

// SetError sets the last error message.
func (r *CheckRun) SetError(err error) {
	if err != nil {
		r.LastError = err.Error()
	} else {
		r.LastError = ""
	}
}

// HasError returns true if the run ended with an error.
func (r *CheckRun) HasError() bool {
	return strings.TrimSpace(r.LastError) != ""
}

// Finish stamps the end time.
func (r *CheckRun) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// Duration returns how long the run took, zero while unfinished.
func (r *CheckRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate validates the run record structure.
func (r *CheckRun) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("run ID is required")
	}

	if strings.TrimSpace(r.VaultPath) == "" {
		return fmt.Errorf("vault path is required")
	}

	if r.Mode != ModeShallow && r.Mode != ModeDeep {
		return fmt.Errorf("invalid mode: %s", r.Mode)
	}

	for severity, n := range r.Severities {
		if n < 0 {
			return fmt.Errorf("negative count for severity %s", severity)
		}
	}

	return nil
}

// Clone creates a deep copy of the run.
func (r *CheckRun) Clone() *CheckRun {
	clone := *r
	clone.Severities = make(map[string]int, len(r.Severities))
	for k, v := range r.Severities {
		clone.Severities[k] = v
	}
	clone.Repairs = append([]RepairRecord(nil), r.Repairs...)
	return &clone
}
