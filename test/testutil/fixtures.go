package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

const (
	// TestPassphrase unlocks every fixture vault.
	TestPassphrase = "correct horse battery staple"

	// TestScryptCost keeps key derivation fast in tests.
	TestScryptCost = 16
)

// Vault is a real encrypted vault in a temporary directory.
type Vault struct {
	t       testing.TB
	Root    string
	Cryptor *crypto.VaultCryptor
	Store   *storage.VaultStore
}

// NewVault creates a vault with a masterkey and an empty root directory.
func NewVault(t testing.TB) *Vault {
	t.Helper()

	root := t.TempDir()

	mk, err := crypto.CreateMasterkey(TestPassphrase, TestScryptCost)
	require.NoError(t, err)

	data, err := mk.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, crypto.MasterkeyFileName), data, 0600))

	cryptor, err := crypto.Unlock(mk, TestPassphrase)
	require.NoError(t, err)
	t.Cleanup(cryptor.Destroy)

	store, err := storage.NewVaultStore(root, events.Discard())
	require.NoError(t, err)

	v := &Vault{t: t, Root: store.Root(), Cryptor: cryptor, Store: store}
	v.MakeCiphertextDir(crypto.RootDirID)
	return v
}

// MakeCiphertextDir creates the ciphertext directory of id with its dir.id file.
func (v *Vault) MakeCiphertextDir(id string) string {
	v.t.Helper()

	loc := crypto.DirPathForID(id)
	v.WriteRaw(filepath.Join(loc, crypto.DirIDFileName), []byte(id))
	return loc
}

// EntryPath returns the canonical vault-relative path of name inside dirID.
func (v *Vault) EntryPath(dirID, name string, pointer bool) string {
	v.t.Helper()

	body, err := v.Cryptor.EncryptName(dirID, name)
	require.NoError(v.t, err)
	return filepath.Join(crypto.DirPathForID(dirID), crypto.CanonicalEntryName(body, pointer))
}

// Mkdir creates a subdirectory of parentID and returns its new directory ID.
func (v *Vault) Mkdir(parentID, name string) string {
	v.t.Helper()

	id := crypto.NewDirectoryID()
	v.WriteRaw(v.EntryPath(parentID, name, true), []byte(id))
	v.MakeCiphertextDir(id)
	return id
}

// WriteFile encrypts content as name inside dirID and returns the entry path.
func (v *Vault) WriteFile(dirID, name string, content []byte) string {
	v.t.Helper()

	var buf bytes.Buffer
	require.NoError(v.t, v.Cryptor.EncryptContent(&buf, content))

	path := v.EntryPath(dirID, name, false)
	v.WriteRaw(path, buf.Bytes())
	return path
}

// WriteRaw writes bytes at a vault-relative path, creating parents.
func (v *Vault) WriteRaw(rel string, data []byte) {
	v.t.Helper()

	abs := v.Abs(rel)
	require.NoError(v.t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(v.t, os.WriteFile(abs, data, 0644))
}

// ReadRaw reads bytes at a vault-relative path.
func (v *Vault) ReadRaw(rel string) []byte {
	v.t.Helper()

	data, err := os.ReadFile(v.Abs(rel))
	require.NoError(v.t, err)
	return data
}

// Rename moves a vault-relative path.
func (v *Vault) Rename(oldRel, newRel string) {
	v.t.Helper()
	require.NoError(v.t, os.Rename(v.Abs(oldRel), v.Abs(newRel)))
}

// Remove deletes a vault-relative path and everything below it.
func (v *Vault) Remove(rel string) {
	v.t.Helper()
	require.NoError(v.t, os.RemoveAll(v.Abs(rel)))
}

// Exists reports whether a vault-relative path exists.
func (v *Vault) Exists(rel string) bool {
	_, err := os.Lstat(v.Abs(rel))
	return err == nil
}

// Abs returns the absolute path of a vault-relative path.
func (v *Vault) Abs(rel string) string {
	return v.Store.Abs(rel)
}
