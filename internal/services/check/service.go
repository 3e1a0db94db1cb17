package check

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/TheMichaelB/vaultcheck/internal/config"
	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/services/scan"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

// Service opens vaults and runs structural checks on them.
type Service struct {
	config *config.CheckConfig
	logger *events.Logger
}

// Vault is an unlocked vault. Close wipes its keys.
type Vault struct {
	Store   storage.Store
	Cryptor crypto.Cryptor

	masterkeyProblems []problems.Problem
}

// Close destroys the key material.
func (v *Vault) Close() {
	if v.Cryptor != nil {
		v.Cryptor.Destroy()
	}
}

// Root returns the absolute vault root.
func (v *Vault) Root() string {
	return v.Store.Root()
}

// NewService creates a check service.
func NewService(cfg *config.CheckConfig, logger *events.Logger) *Service {
	return &Service{
		config: cfg,
		logger: logger.WithField("component", "check_service"),
	}
}

// Open unlocks the vault at root. Failures that make checking impossible are
// returned as *models.AbortError.
func (s *Service) Open(ctx context.Context, root, passphrase string) (*Vault, error) {
	store, err := storage.NewVaultStore(root, events.FromContext(ctx))
	if err != nil {
		code := models.ErrCodeStorage
		if errors.Is(err, models.ErrVaultNotFound) {
			code = models.ErrCodeVaultNotFound
		}
		return nil, &models.AbortError{Code: code, Phase: "open", Vault: root, Err: err}
	}

	return s.unlock(store, passphrase)
}

// OpenStore unlocks a vault behind an existing store.
func (s *Service) OpenStore(store storage.Store, passphrase string) (*Vault, error) {
	return s.unlock(store, passphrase)
}

func (s *Service) unlock(store storage.Store, passphrase string) (*Vault, error) {
	root := store.Root()
	logger := s.logger.WithField("vault", root)

	data, err := store.Read(crypto.MasterkeyFileName)
	if err != nil {
		abort := &models.AbortError{Code: models.ErrCodeMasterkey, Phase: "masterkey", Vault: root, Err: err}
		if errors.Is(err, fs.ErrNotExist) {
			abort.Diagnostic = problems.MissingMasterkey(store.Abs(crypto.MasterkeyFileName)).Render(root)
			abort.Err = models.ErrMasterkeyMissing
		}
		return nil, abort
	}

	mk, err := crypto.ParseMasterkey(data)
	if err != nil {
		return nil, &models.AbortError{
			Code:       models.ErrCodeMasterkey,
			Phase:      "masterkey",
			Vault:      root,
			Diagnostic: problems.InvalidMasterkeyFile(store.Abs(crypto.MasterkeyFileName), true, err.Error()).Render(root),
			Err:        err,
		}
	}

	start := time.Now()
	cryptor, err := crypto.Unlock(mk, passphrase)
	if err != nil {
		code := models.ErrCodeMasterkey
		if errors.Is(err, models.ErrInvalidPassphrase) {
			code = models.ErrCodePassphrase
		}
		return nil, &models.AbortError{Code: code, Phase: "unlock", Vault: root, Err: err}
	}

	logger.WithField("duration", time.Since(start).String()).Debug("Masterkey unlocked")

	vault := &Vault{Store: store, Cryptor: cryptor}
	vault.masterkeyProblems = s.checkBackups(store, passphrase)
	return vault, nil
}

// checkBackups verifies every masterkey backup next to the primary file.
func (s *Service) checkBackups(store storage.Store, passphrase string) []problems.Problem {
	entries, err := store.ListDir(".")
	if err != nil {
		return []problems.Problem{problems.Exception(store.Root(), &models.EntryFault{Path: ".", Op: "list", Err: err})}
	}

	var found []problems.Problem
	for _, entry := range entries {
		if !entry.IsRegular() || !crypto.IsMasterkeyBackup(entry.Name) {
			continue
		}

		abs := store.Abs(entry.Path)
		data, err := store.Read(entry.Path)
		if err != nil {
			found = append(found, problems.Exception(abs, &models.EntryFault{Path: entry.Path, Op: "read", Err: err}))
			continue
		}

		mk, err := crypto.ParseMasterkey(data)
		if err != nil {
			found = append(found, problems.InvalidMasterkeyFile(abs, false, "does not parse"))
			continue
		}

		cryptor, err := crypto.Unlock(mk, passphrase)
		if err != nil {
			found = append(found, problems.InvalidMasterkeyFile(abs, false, "does not unlock with the vault passphrase"))
			continue
		}
		cryptor.Destroy()

		s.logger.WithField("backup", entry.Name).Debug("Masterkey backup verified")
	}

	return found
}

// Check scans an unlocked vault and returns its problems in report order.
func (s *Service) Check(ctx context.Context, vault *Vault, deep bool) ([]problems.Problem, error) {
	sink := problems.NewSink()
	for _, p := range vault.masterkeyProblems {
		sink.Report(p)
	}

	scanner := scan.NewScanner(vault.Store, vault.Cryptor, scan.Options{
		Workers:    s.config.Workers,
		QueueDepth: s.config.QueueDepth,
		Deep:       deep || s.config.Deep,
	}, s.logger)

	if err := scanner.Scan(ctx, sink); err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}

	return sink.Problems(vault.Root()), nil
}
