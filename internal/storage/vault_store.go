package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// VaultStore implements Store on the local file system.
type VaultStore struct {
	root   string
	logger *events.Logger

	// Security settings
	allowSymlinks bool
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore opens an existing vault root.
func NewVaultStore(root string, logger *events.Logger) (*VaultStore, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrVaultNotFound, absPath)
		}
		return nil, fmt.Errorf("stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", models.ErrVaultNotFound, absPath)
	}

	return &VaultStore{
		root:          absPath,
		logger:        logger.WithField("component", "vault_store"),
		allowSymlinks: false,
	}, nil
}

// Root implements Store.
func (s *VaultStore) Root() string {
	return s.root
}

// Abs implements Store.
func (s *VaultStore) Abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Rel implements Store.
func (s *VaultStore) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", models.ErrPathEscapesVault, abs)
	}
	return rel, nil
}

// Write saves data to a file atomically.
func (s *VaultStore) Write(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing file")

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// Write atomically using temp file
	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	if err := os.WriteFile(tempPath, data, mode); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tempPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Create writes a new file, failing if it exists.
func (s *VaultStore) Create(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithField("path", path).Debug("Creating file")

	file, err := os.OpenFile(safePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		_ = os.Remove(safePath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	return file.Close()
}

// Read retrieves file contents.
func (s *VaultStore) Read(path string) ([]byte, error) {
	safePath, err := s.openablePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// Open opens a file for reading.
func (s *VaultStore) Open(path string) (io.ReadCloser, error) {
	safePath, err := s.openablePath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(safePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

func (s *VaultStore) openablePath(path string) (string, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return "", fmt.Errorf("sanitize path: %w", err)
	}

	if !s.allowSymlinks {
		stat, err := os.Lstat(safePath)
		if err == nil && stat.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("symlinks not allowed: %s", path)
		}
	}

	return safePath, nil
}

// Remove deletes a file or empty directory.
func (s *VaultStore) Remove(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithField("path", path).Debug("Removing")

	if err := os.Remove(safePath); err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	return nil
}

// RemovePruning deletes a file and the directories it leaves empty, stopping at stop.
func (s *VaultStore) RemovePruning(path, stop string) error {
	if err := s.Remove(path); err != nil {
		return err
	}

	safePath, _ := s.sanitizePath(path)
	stopPath, err := s.sanitizePath(stop)
	if err != nil {
		return fmt.Errorf("sanitize stop path: %w", err)
	}

	s.cleanEmptyDirs(filepath.Dir(safePath), stopPath)
	return nil
}

// RemoveAll deletes a tree.
func (s *VaultStore) RemoveAll(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	if safePath == s.root {
		return fmt.Errorf("refusing to remove vault root")
	}

	s.logger.WithField("path", path).Debug("Removing tree")

	if err := os.RemoveAll(safePath); err != nil {
		return fmt.Errorf("remove tree: %w", err)
	}

	return nil
}

// Exists checks if a path exists.
func (s *VaultStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Lstat(safePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Stat returns file information.
func (s *VaultStore) Stat(path string) (FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	return toFileInfo(path, stat), nil
}

// EnsureDir creates a directory if it doesn't exist.
func (s *VaultStore) EnsureDir(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	return os.MkdirAll(safePath, 0755)
}

// ListDir returns directory contents sorted by name.
func (s *VaultStore) ListDir(path string) ([]FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	entries, err := os.ReadDir(safePath)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		files = append(files, toFileInfo(filepath.Join(path, entry.Name()), info))
	}

	return files, nil
}

// Move renames a file or directory. An existing target is an error unless it is
// the source itself, as happens for case-only renames on case-insensitive file systems.
func (s *VaultStore) Move(oldPath, newPath string) error {
	oldSafe, err := s.sanitizePath(oldPath)
	if err != nil {
		return fmt.Errorf("sanitize old path: %w", err)
	}

	newSafe, err := s.sanitizePath(newPath)
	if err != nil {
		return fmt.Errorf("sanitize new path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"old": oldPath,
		"new": newPath,
	}).Debug("Moving file")

	oldInfo, err := os.Lstat(oldSafe)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if newInfo, err := os.Lstat(newSafe); err == nil {
		if !os.SameFile(oldInfo, newInfo) {
			return fmt.Errorf("move %s: target %s: %w", oldPath, newPath, fs.ErrExist)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat target: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(newSafe), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	if err := os.Rename(oldSafe, newSafe); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// Walk visits the root and every path below it in lexical order.
func (s *VaultStore) Walk(fn WalkFunc) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil && d == nil {
			return fmt.Errorf("walk %s: %w", p, walkErr)
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		item := models.FileItem{Path: filepath.ToSlash(rel), Type: models.EntryOther}
		if walkErr != nil {
			s.logger.WithError(walkErr).WithField("path", item.Path).Warn("Cannot read directory")
			return fn(item, fmt.Errorf("read %s: %w", item.Path, walkErr))
		}

		switch {
		case d.IsDir():
			item.Type = models.EntryDirectory
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				s.logger.WithError(err).WithField("path", item.Path).Warn("Cannot stat file")
				return fn(item, fmt.Errorf("stat %s: %w", item.Path, err))
			}
			item.Type = models.EntryFile
			item.Size = info.Size()
		}

		return fn(item, nil)
	})
}

// Helper methods

// sanitizePath validates a vault-relative path and returns it absolute.
func (s *VaultStore) sanitizePath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: contains '..'")
	}

	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	fullPath := filepath.Join(s.root, cleaned)

	if !strings.HasPrefix(fullPath, s.root+string(filepath.Separator)) && fullPath != s.root {
		return "", models.ErrPathEscapesVault
	}

	return fullPath, nil
}

// cleanEmptyDirs removes empty directories from dirPath upwards, stopping at stop.
func (s *VaultStore) cleanEmptyDirs(dirPath, stop string) {
	for dirPath != stop && dirPath != s.root && strings.HasPrefix(dirPath, stop+string(filepath.Separator)) {
		entries, err := os.ReadDir(dirPath)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(dirPath); err != nil {
			break
		}

		dirPath = filepath.Dir(dirPath)
	}
}

func toFileInfo(path string, stat fs.FileInfo) FileInfo {
	return FileInfo{
		Name:      stat.Name(),
		Path:      path,
		Size:      stat.Size(),
		Mode:      stat.Mode(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
	}
}
