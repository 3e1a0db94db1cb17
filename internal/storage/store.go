package storage

import (
	"io"
	"os"
	"time"

	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// Store is vault-relative file access. Scanner and repair I/O goes through it.
type Store interface {
	// Root returns the absolute vault root.
	Root() string

	// Abs joins a vault-relative path onto the root without validation.
	Abs(path string) string

	// Rel converts an absolute path below the root back to a vault-relative path.
	Rel(abs string) (string, error)

	// Read retrieves file contents.
	Read(path string) ([]byte, error)

	// Open opens a file for streaming reads.
	Open(path string) (io.ReadCloser, error)

	// Write saves data to a file atomically, replacing any existing file.
	Write(path string, data []byte, mode os.FileMode) error

	// Create writes a new file and fails with fs.ErrExist if it is present.
	Create(path string, data []byte, mode os.FileMode) error

	// Remove deletes a file or empty directory.
	Remove(path string) error

	// RemovePruning deletes a file, then empty parents up to but excluding stop.
	RemovePruning(path, stop string) error

	// RemoveAll deletes a tree.
	RemoveAll(path string) error

	// Exists checks if a path exists.
	Exists(path string) (bool, error)

	// Stat returns file information without following symlinks.
	Stat(path string) (FileInfo, error)

	// EnsureDir creates a directory if it doesn't exist.
	EnsureDir(path string) error

	// ListDir returns directory contents sorted by name.
	ListDir(path string) ([]FileInfo, error)

	// Move renames a file or directory without replacing an existing target.
	Move(oldPath, newPath string) error

	// Walk visits every path below the root, root first, in lexical order.
	// A path that cannot be read is passed with its error and an EntryOther
	// type; the walk goes on when fn returns nil.
	Walk(fn WalkFunc) error
}

// WalkFunc is called by Walk for every path. err is non-nil when the path
// could not be read.
type WalkFunc func(item models.FileItem, err error) error

// FileInfo contains file metadata.
type FileInfo struct {
	Name      string
	Path      string // Vault-relative
	Size      int64
	Mode      os.FileMode
	ModTime   time.Time
	IsDir     bool
	IsSymlink bool
}

// IsRegular reports whether the entry is a plain file.
func (f FileInfo) IsRegular() bool {
	return f.Mode.IsRegular()
}
