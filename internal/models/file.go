package models

import (
	"path/filepath"
	"strings"
)

// EntryType classifies a path found while walking a vault.
type EntryType string

const (
	EntryDirectory EntryType = "d"
	EntryFile      EntryType = "f"
	EntryOther     EntryType = "?"
)

// FileItem is one filesystem path below a vault root.
type FileItem struct {
	Path string    `json:"path"` // Relative to the vault root
	Type EntryType `json:"type"`
	Size int64     `json:"size"`
}

// NormalizedPath returns the cleaned, forward-slash path.
func (f *FileItem) NormalizedPath() string {
	return strings.ReplaceAll(filepath.Clean(f.Path), "\\", "/")
}

// IsDirectory reports whether the item is a directory.
func (f *FileItem) IsDirectory() bool {
	return f.Type == EntryDirectory
}
