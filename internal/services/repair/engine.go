package repair

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

const (
	// InvalidSuffix is appended to masterkey backups that cannot be used.
	InvalidSuffix = ".invalid"

	// ReattachPrefix names directories reattached under the root.
	ReattachPrefix = "orphaned-"

	maxConflictIndex = 1000
)

var errNoSolution = errors.New("no solution available")

// Outcome is the result of solving one problem.
type Outcome struct {
	Problem problems.Problem
	Err     error
}

// Solved reports whether the solution succeeded.
func (o Outcome) Solved() bool {
	return o.Err == nil
}

// Engine applies the solutions bound to problems, one at a time.
type Engine struct {
	store   storage.Store
	cryptor crypto.Cryptor
	logger  *events.Logger
}

// NewEngine creates a repair engine.
func NewEngine(store storage.Store, cryptor crypto.Cryptor, logger *events.Logger) *Engine {
	return &Engine{
		store:   store,
		cryptor: cryptor,
		logger:  logger.WithField("component", "repair_engine"),
	}
}

// Solve applies the solutions of the problems whose kind is in kinds, in the
// given order. Problems without a solution are skipped. A failed solution does
// not stop the remaining ones.
func (e *Engine) Solve(ctx context.Context, ps []problems.Problem, kinds problems.KindSet) ([]Outcome, error) {
	var outcomes []Outcome

	for _, p := range problems.Select(ps, kinds) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if !p.Solvable() {
			continue
		}

		text := p.Render(e.store.Root())
		logger := e.logger.WithFields(map[string]interface{}{
			"problem":  text,
			"solution": string(p.Solution),
		})

		err := e.apply(p)
		if err != nil {
			err = &models.SolutionError{Problem: text, Err: err}
			logger.WithError(err).Warn("Solution failed")
		} else {
			logger.Info("Solved")
		}

		outcomes = append(outcomes, Outcome{Problem: p, Err: err})
	}

	return outcomes, nil
}

func (e *Engine) apply(p problems.Problem) error {
	rel, err := e.store.Rel(p.Path)
	if err != nil {
		return err
	}

	switch p.Solution {
	case problems.SolutionCreateDirectory:
		return e.store.EnsureDir(rel)
	case problems.SolutionCreateCiphertextDir:
		return e.createCiphertextDir(rel, p.DirID)
	case problems.SolutionMarkInvalid:
		return e.store.Move(rel, rel+InvalidSuffix)
	case problems.SolutionWriteDirID:
		return e.store.Create(filepath.Join(rel, crypto.DirIDFileName), []byte(p.DirID), 0644)
	case problems.SolutionDeleteDirID:
		return e.store.RemovePruning(rel, crypto.DataDirName)
	case problems.SolutionReattach:
		return e.reattach(p.DirID)
	case problems.SolutionRemoveTree:
		return e.store.RemoveAll(rel)
	case problems.SolutionRenameCanonical:
		return e.renameCanonical(rel)
	case problems.SolutionRenameConflict:
		return e.renameConflict(rel, p.DirID)
	default:
		return errNoSolution
	}
}

// createCiphertextDir recreates an empty ciphertext directory for dirID.
func (e *Engine) createCiphertextDir(rel, dirID string) error {
	if err := e.store.EnsureDir(rel); err != nil {
		return err
	}
	return e.store.Create(filepath.Join(rel, crypto.DirIDFileName), []byte(dirID), 0644)
}

// reattach links an orphaned directory into the root under a generated name.
func (e *Engine) reattach(dirID string) error {
	name := ReattachPrefix + e.cryptor.HashDirectoryID(dirID)[:8]

	body, err := e.cryptor.EncryptName(crypto.RootDirID, name)
	if err != nil {
		return fmt.Errorf("encrypt %q: %w", name, err)
	}

	pointer := filepath.Join(crypto.DirPathForID(crypto.RootDirID), crypto.CanonicalEntryName(body, true))
	return e.store.Create(pointer, []byte(dirID), 0644)
}

// renameCanonical gives an entry its canonical on-disk name.
func (e *Engine) renameCanonical(rel string) error {
	name, ok := crypto.ParseEntryName(filepath.Base(rel))
	if !ok {
		return fmt.Errorf("%w: %s", crypto.ErrInvalidName, filepath.Base(rel))
	}
	return e.store.Move(rel, filepath.Join(filepath.Dir(rel), name.Canonical()))
}

// renameConflict moves a conflicting entry to the first free "<stem> (Conflict N)<ext>".
func (e *Engine) renameConflict(rel, dirID string) error {
	name, ok := crypto.ParseEntryName(filepath.Base(rel))
	if !ok {
		return fmt.Errorf("%w: %s", crypto.ErrInvalidName, filepath.Base(rel))
	}

	plain, err := e.cryptor.DecryptName(dirID, name.CanonicalBody())
	if err != nil {
		return fmt.Errorf("decrypt name: %w", err)
	}

	stem, ext := SplitExtension(plain)
	dir := filepath.Dir(rel)

	for n := 1; n <= maxConflictIndex; n++ {
		candidate := fmt.Sprintf("%s (Conflict %d)%s", stem, n, ext)

		body, err := e.cryptor.EncryptName(dirID, candidate)
		if err != nil {
			return fmt.Errorf("encrypt %q: %w", candidate, err)
		}

		target := filepath.Join(dir, crypto.CanonicalEntryName(body, name.IsPointer()))
		err = e.store.Move(rel, target)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err == nil {
			e.logger.WithFields(map[string]interface{}{
				"from": rel,
				"to":   target,
			}).Debug("Renamed conflicting entry")
		}
		return err
	}

	return fmt.Errorf("no free conflict name for %q", plain)
}

// SplitExtension splits a plaintext name into stem and extension. A leading dot
// does not start an extension.
func SplitExtension(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "." || strings.TrimSuffix(name, ext) == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
