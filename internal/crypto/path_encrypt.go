package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PointerReader reads vault files by vault-relative path.
type PointerReader interface {
	Read(path string) ([]byte, error)
}

// EncryptedPath is the on-disk location of a logical path.
type EncryptedPath struct {
	DirID     string // Directory ID of the parent directory
	Entry     string // Vault-relative ciphertext entry
	Directory string // Vault-relative ciphertext directory, set when the entry is a directory pointer
}

// PathEncryptor resolves logical paths to ciphertext paths, caching directory IDs.
type PathEncryptor struct {
	cryptor Cryptor
	reader  PointerReader

	mu    sync.Mutex
	cache map[string]string // Logical directory path -> directory ID
}

// NewPathEncryptor creates a path encryptor with caching.
func NewPathEncryptor(cryptor Cryptor, reader PointerReader) *PathEncryptor {
	return &PathEncryptor{
		cryptor: cryptor,
		reader:  reader,
		cache:   map[string]string{"/": RootDirID},
	}
}

// EncryptPath translates a slash-separated logical path. The root maps to the root directory.
func (pe *PathEncryptor) EncryptPath(logical string) (EncryptedPath, error) {
	clean := path.Clean("/" + strings.ReplaceAll(logical, "\\", "/"))
	if clean == "/" {
		return EncryptedPath{DirID: RootDirID, Directory: DirPathForID(RootDirID)}, nil
	}

	parent, name := path.Split(clean)
	dirID, err := pe.resolveDir(path.Clean(parent))
	if err != nil {
		return EncryptedPath{}, err
	}

	body, err := pe.cryptor.EncryptName(dirID, name)
	if err != nil {
		return EncryptedPath{}, fmt.Errorf("encrypt %q: %w", name, err)
	}

	dirPath := DirPathForID(dirID)
	pointer := filepath.Join(dirPath, CanonicalEntryName(body, true))

	childID, err := pe.readPointer(pointer)
	switch {
	case err == nil:
		pe.remember(clean, childID)
		return EncryptedPath{DirID: dirID, Entry: pointer, Directory: DirPathForID(childID)}, nil
	case errors.Is(err, fs.ErrNotExist):
		return EncryptedPath{DirID: dirID, Entry: filepath.Join(dirPath, CanonicalEntryName(body, false))}, nil
	default:
		return EncryptedPath{}, err
	}
}

// resolveDir walks from the root to dir, following directory pointers.
func (pe *PathEncryptor) resolveDir(dir string) (string, error) {
	pe.mu.Lock()
	if id, ok := pe.cache[dir]; ok {
		pe.mu.Unlock()
		return id, nil
	}
	pe.mu.Unlock()

	parent, name := path.Split(dir)
	parentID, err := pe.resolveDir(path.Clean(parent))
	if err != nil {
		return "", err
	}

	body, err := pe.cryptor.EncryptName(parentID, name)
	if err != nil {
		return "", fmt.Errorf("encrypt %q: %w", name, err)
	}

	childID, err := pe.readPointer(filepath.Join(DirPathForID(parentID), CanonicalEntryName(body, true)))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	pe.remember(dir, childID)
	return childID, nil
}

func (pe *PathEncryptor) readPointer(p string) (string, error) {
	data, err := pe.reader.Read(p)
	if err != nil {
		return "", err
	}

	id, err := ParseDirectoryID(data)
	if err != nil {
		return "", fmt.Errorf("pointer %s: %w", p, err)
	}
	return id, nil
}

func (pe *PathEncryptor) remember(dir, id string) {
	pe.mu.Lock()
	pe.cache[dir] = id
	pe.mu.Unlock()
}

// ClearCache removes all cached directory IDs.
func (pe *PathEncryptor) ClearCache() {
	pe.mu.Lock()
	pe.cache = map[string]string{"/": RootDirID}
	pe.mu.Unlock()
}

// NewDirectoryID returns a fresh random directory ID.
func NewDirectoryID() string {
	return uuid.NewString()
}

// ParseDirectoryID validates directory pointer content: a canonical UUID string.
func ParseDirectoryID(data []byte) (string, error) {
	s := string(data)
	id, err := uuid.Parse(s)
	if err != nil || id.String() != s {
		return "", fmt.Errorf("%w: not a directory ID", ErrInvalidCiphertext)
	}
	return s, nil
}
