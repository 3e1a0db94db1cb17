package storage

import (
	"io"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// FaultStore wraps a Store and fails selected reads, for exercising fault isolation.
type FaultStore struct {
	Store

	mu     sync.RWMutex
	faults map[string]error
}

// NewFaultStore wraps store.
func NewFaultStore(store Store) *FaultStore {
	return &FaultStore{
		Store:  store,
		faults: make(map[string]error),
	}
}

// Fail makes every read-side access to path return err.
func (f *FaultStore) Fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[filepath.Clean(path)] = err
}

func (f *FaultStore) fault(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.faults[filepath.Clean(path)]
}

// Read implements Store.
func (f *FaultStore) Read(path string) ([]byte, error) {
	if err := f.fault(path); err != nil {
		return nil, err
	}
	return f.Store.Read(path)
}

// Open implements Store.
func (f *FaultStore) Open(path string) (io.ReadCloser, error) {
	if err := f.fault(path); err != nil {
		return nil, err
	}
	return f.Store.Open(path)
}

// Stat implements Store.
func (f *FaultStore) Stat(path string) (FileInfo, error) {
	if err := f.fault(path); err != nil {
		return FileInfo{}, err
	}
	return f.Store.Stat(path)
}

// Walk implements Store. A failed path is passed with its error and, when it
// is a directory, its contents are skipped.
func (f *FaultStore) Walk(fn WalkFunc) error {
	return f.Store.Walk(func(item models.FileItem, err error) error {
		fault := f.fault(filepath.FromSlash(item.Path))
		if err != nil || fault == nil {
			return fn(item, err)
		}

		dir := item.Type == models.EntryDirectory
		if err := fn(models.FileItem{Path: item.Path, Type: models.EntryOther}, fault); err != nil {
			return err
		}
		if dir {
			return fs.SkipDir
		}
		return nil
	})
}

// ListDir implements Store.
func (f *FaultStore) ListDir(path string) ([]FileInfo, error) {
	if err := f.fault(path); err != nil {
		return nil, err
	}
	return f.Store.ListDir(path)
}
