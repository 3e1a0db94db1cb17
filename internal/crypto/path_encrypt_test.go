package crypto_test

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
)

type mapReader struct {
	files map[string][]byte
	reads int
}

func (m *mapReader) Read(p string) ([]byte, error) {
	m.reads++
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, fs.ErrNotExist)
	}
	return data, nil
}

func TestPathEncryptor(t *testing.T) {
	c := newTestCryptor(t)
	docsID := crypto.NewDirectoryID()

	docsBody, err := c.EncryptName(crypto.RootDirID, "docs")
	require.NoError(t, err)
	pointer := filepath.Join(crypto.DirPathForID(crypto.RootDirID), docsBody+crypto.DirSuffix)

	reader := &mapReader{files: map[string][]byte{pointer: []byte(docsID)}}
	pe := crypto.NewPathEncryptor(c, reader)

	t.Run("root", func(t *testing.T) {
		got, err := pe.EncryptPath("/")
		require.NoError(t, err)
		assert.Equal(t, crypto.DirPathForID(crypto.RootDirID), got.Directory)
	})

	t.Run("directory", func(t *testing.T) {
		got, err := pe.EncryptPath("/docs")
		require.NoError(t, err)
		assert.Equal(t, pointer, got.Entry)
		assert.Equal(t, crypto.DirPathForID(docsID), got.Directory)
	})

	t.Run("file in directory", func(t *testing.T) {
		body, err := c.EncryptName(docsID, "report.pdf")
		require.NoError(t, err)

		got, err := pe.EncryptPath("docs/report.pdf")
		require.NoError(t, err)
		assert.Equal(t, docsID, got.DirID)
		assert.Equal(t, filepath.Join(crypto.DirPathForID(docsID), body+crypto.FileSuffix), got.Entry)
		assert.Empty(t, got.Directory)
	})

	t.Run("cached parent", func(t *testing.T) {
		before := reader.reads
		_, err := pe.EncryptPath("/docs/other.txt")
		require.NoError(t, err)
		// Only the leaf pointer probe, the parent comes from cache.
		assert.Equal(t, before+1, reader.reads)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := pe.EncryptPath("/nope/file.txt")
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})
}

func TestParseDirectoryID(t *testing.T) {
	id := crypto.NewDirectoryID()

	got, err := crypto.ParseDirectoryID([]byte(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "not-a-uuid", id + "\n", "{" + id + "}"} {
		_, err := crypto.ParseDirectoryID([]byte(bad))
		assert.ErrorIs(t, err, crypto.ErrInvalidCiphertext, bad)
	}
}
