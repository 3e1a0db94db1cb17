package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/TheMichaelB/vaultcheck/internal/config"
	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/report"
	"github.com/TheMichaelB/vaultcheck/internal/services/check"
	"github.com/TheMichaelB/vaultcheck/internal/services/repair"
	"github.com/TheMichaelB/vaultcheck/internal/state"
)

// Client provides the high-level API for vaultcheck operations.
type Client struct {
	Check   *check.Service
	History state.Store

	config *config.Config
	logger *events.Logger
}

// New creates a client from cfg.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	history, err := state.Open(cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	return &Client{
		Check:   check.NewService(&cfg.Check, logger),
		History: history,
		config:  cfg,
		logger:  logger.WithField("component", "client"),
	}, nil
}

// Close releases the history store.
func (c *Client) Close() error {
	return c.History.Close()
}

// RunOptions selects what a run does.
type RunOptions struct {
	VaultPath  string
	Passphrase string
	Deep       bool
	Solve      problems.KindSet // Kinds to repair, empty for report only
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	Run            *models.CheckRun
	VaultRoot      string
	Problems       []problems.Problem
	StructurePath  string
	StructureLines int
	ReportPath     string
	Outcomes       []repair.Outcome
}

// Unresolved returns the repairs that failed.
func (r *RunResult) Unresolved() []repair.Outcome {
	var failed []repair.Outcome
	for _, o := range r.Outcomes {
		if !o.Solved() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Remaining returns the number of counted problems that were not solved.
func (r *RunResult) Remaining() int {
	remaining := problems.Count(r.Problems)
	for _, o := range r.Outcomes {
		if o.Solved() && o.Problem.Severity.Counts() {
			remaining--
		}
	}
	return remaining
}

// Run unlocks a vault, dumps its structure, checks it, writes the report and
// applies the selected repairs. Abort-class failures return *models.AbortError
// and write no output files. Every run is recorded in the history store.
func (c *Client) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	mode := models.ModeShallow
	if opts.Deep {
		mode = models.ModeDeep
	}

	vaultPath, err := filepath.Abs(opts.VaultPath)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}

	run := models.NewCheckRun(uuid.NewString(), vaultPath, mode)
	ctx = events.WithLogger(ctx, c.logger.WithField("mode", mode))
	ctx = events.WithRunID(ctx, run.RunID)
	ctx = events.WithVaultPath(ctx, vaultPath)
	logger := events.FromContext(ctx)

	result, err := c.run(ctx, run, opts)
	run.SetError(err)
	run.Finish()
	c.record(run)

	if err != nil {
		logger.WithError(err).Error("Run failed")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"problems": problems.Count(result.Problems),
		"repairs":  len(result.Outcomes),
		"duration": run.Duration().String(),
	}).Info("Run completed")

	return result, nil
}

func (c *Client) run(ctx context.Context, run *models.CheckRun, opts RunOptions) (*RunResult, error) {
	structurePath := c.config.StructurePath()
	reportPath := c.config.ReportPath()

	vault, err := c.Check.Open(ctx, opts.VaultPath, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	defer vault.Close()

	for _, path := range []string{structurePath, reportPath} {
		if _, err := os.Lstat(path); err == nil {
			return nil, &models.AbortError{
				Code:  models.ErrCodeOutput,
				Phase: "output",
				Vault: vault.Root(),
				Err:   fmt.Errorf("%w: %s", models.ErrOutputExists, path),
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	result := &RunResult{
		Run:           run,
		VaultRoot:     vault.Root(),
		StructurePath: structurePath,
		ReportPath:    reportPath,
	}

	result.StructureLines, err = report.WriteStructureFile(structurePath, vault.Store)
	if err != nil {
		return nil, fmt.Errorf("write structure dump: %w", err)
	}

	result.Problems, err = c.Check.Check(ctx, vault, opts.Deep)
	if err != nil {
		return nil, err
	}

	for severity, n := range problems.CountBySeverity(result.Problems) {
		run.CountSeverity(severity.String(), n)
	}

	if err := report.WriteReportFile(reportPath, result.Problems, vault.Root()); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	if len(opts.Solve) == 0 {
		return result, nil
	}

	engine := repair.NewEngine(vault.Store, vault.Cryptor, events.FromContext(ctx))
	result.Outcomes, err = engine.Solve(ctx, result.Problems, opts.Solve)
	for _, o := range result.Outcomes {
		run.AddRepair(o.Problem.Render(vault.Root()), o.Err)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// record saves run in the history. History failures never fail a run.
func (c *Client) record(run *models.CheckRun) {
	if err := c.History.Save(run); err != nil {
		c.logger.WithError(err).WithField("run_id", run.RunID).Warn("Failed to record run")
	}
}

// Init creates an empty vault at path.
func (c *Client) Init(ctx context.Context, path, passphrase string, cost int) error {
	return c.Check.Init(ctx, path, passphrase, cost)
}

// EncryptPath translates a logical path of the vault at vaultPath into its
// vault-relative ciphertext location. It returns the vault root alongside.
func (c *Client) EncryptPath(ctx context.Context, vaultPath, passphrase, logical string) (crypto.EncryptedPath, string, error) {
	vault, err := c.Check.Open(ctx, vaultPath, passphrase)
	if err != nil {
		return crypto.EncryptedPath{}, "", err
	}
	defer vault.Close()

	encrypted, err := crypto.NewPathEncryptor(vault.Cryptor, vault.Store).EncryptPath(logical)
	if err != nil {
		return crypto.EncryptedPath{}, vault.Root(), err
	}
	return encrypted, vault.Root(), nil
}

// Runs lists recorded runs newest first. An empty vaultPath lists every vault.
func (c *Client) Runs(vaultPath string, limit int) ([]*models.CheckRun, error) {
	if vaultPath != "" {
		abs, err := filepath.Abs(vaultPath)
		if err != nil {
			return nil, fmt.Errorf("resolve vault path: %w", err)
		}
		vaultPath = abs
	}
	return c.History.List(vaultPath, limit)
}
