package check

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

// Init creates an empty vault at root: a masterkey wrapped under passphrase,
// the data directory and the root ciphertext directory with its dir.id.
// A cost of zero uses crypto.ScryptN.
func (s *Service) Init(ctx context.Context, root, passphrase string, cost int) error {
	if cost == 0 {
		cost = crypto.ScryptN
	}

	if err := os.MkdirAll(root, 0700); err != nil {
		return fmt.Errorf("create vault root: %w", err)
	}

	store, err := storage.NewVaultStore(root, events.FromContext(ctx))
	if err != nil {
		return err
	}

	logger := s.logger.WithField("vault", store.Root())

	mk, err := crypto.CreateMasterkey(passphrase, cost)
	if err != nil {
		return fmt.Errorf("create masterkey: %w", err)
	}

	data, err := mk.Marshal()
	if err != nil {
		return err
	}

	if err := store.Create(crypto.MasterkeyFileName, data, 0600); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", models.ErrVaultExists, store.Root())
		}
		return fmt.Errorf("write masterkey: %w", err)
	}

	rootDir := crypto.DirPathForID(crypto.RootDirID)
	if err := store.EnsureDir(rootDir); err != nil {
		return fmt.Errorf("create root directory: %w", err)
	}
	if err := store.Create(filepath.Join(rootDir, crypto.DirIDFileName), []byte(crypto.RootDirID), 0644); err != nil {
		return fmt.Errorf("write root dir.id: %w", err)
	}

	logger.Info("Vault initialized")
	return nil
}
