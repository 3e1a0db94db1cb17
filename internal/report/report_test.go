package report_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/report"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
	"github.com/TheMichaelB/vaultcheck/test/testutil"
)

func TestObfuscateSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1024 B"},
		{1025, "~1 KiB"},
		{2048, "~2 KiB"},
		{1024 * 1024, "~1024 KiB"},
		{1024*1024 + 1, "~1 MiB"},
		{1024*1024*1024 + 5, "~1 GiB"},
		{1024 * 1024 * 1024, "~1024 MiB"},
		{5*1024*1024*1024 + 1023, "~5 GiB"},
		{1 << 62, "~4 EiB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, report.ObfuscateSize(tt.size))
		})
	}
}

func TestStructureLine(t *testing.T) {
	assert.Equal(t, "d .", report.StructureLine(models.FileItem{Path: ".", Type: models.EntryDirectory}))
	assert.Equal(t, "d d/AB", report.StructureLine(models.FileItem{Path: "d/AB", Type: models.EntryDirectory}))
	assert.Equal(t, "f masterkey.json 312 B", report.StructureLine(models.FileItem{Path: "masterkey.json", Type: models.EntryFile, Size: 312}))
	assert.Equal(t, "f d/AB/X.enc ~3 KiB", report.StructureLine(models.FileItem{Path: "d/AB/X.enc", Type: models.EntryFile, Size: 3500}))
	assert.Equal(t, "? link", report.StructureLine(models.FileItem{Path: "link", Type: models.EntryOther}))
}

func TestWriteStructure_EmptyVault(t *testing.T) {
	v := testutil.NewVault(t)

	var buf bytes.Buffer
	count, err := report.WriteStructure(&buf, v.Store)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, len(lines), count)
	assert.Equal(t, "d .", lines[0])

	rootDir := filepath.ToSlash(crypto.DirPathForID(crypto.RootDirID))
	var dirs []string
	for _, line := range lines {
		if strings.HasPrefix(line, "d d/") && strings.Count(line, "/") == 2 {
			dirs = append(dirs, line)
		}
	}
	assert.Equal(t, []string{"d " + rootDir}, dirs)
	assert.Contains(t, lines, "f "+rootDir+"/dir.id 0 B")
}

func TestWriteStructure_Symlink(t *testing.T) {
	v := testutil.NewVault(t)
	require.NoError(t, os.Symlink(v.Abs("masterkey.json"), v.Abs("link")))

	var buf bytes.Buffer
	_, err := report.WriteStructure(&buf, v.Store)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "? link\n")
}

func TestWriteStructure_UnreadablePaths(t *testing.T) {
	v := testutil.NewVault(t)
	store := storage.NewFaultStore(v.Store)
	store.Fail("d", errors.New("permission denied"))
	store.Fail("masterkey.json", errors.New("input/output error"))

	var buf bytes.Buffer
	count, err := report.WriteStructure(&buf, store)
	require.NoError(t, err)

	assert.Equal(t, "d .\n? d\n? masterkey.json\n", buf.String())
	assert.Equal(t, 3, count)
}

func TestWriteReport(t *testing.T) {
	root := "/vault"

	t.Run("no problems", func(t *testing.T) {
		var buf bytes.Buffer
		ps := []problems.Problem{problems.RootDirectoryInfo(root)}

		require.NoError(t, report.WriteReport(&buf, ps, root))
		assert.Equal(t, "0 problem(s) found.\n", buf.String())
	})

	t.Run("problems", func(t *testing.T) {
		ps := []problems.Problem{
			problems.RootDirectoryInfo(root),
			problems.OrphanMFile(root + "/d/AB/CD/dir.id"),
			problems.MissingMFile(root+"/d/EF/GH", "id"),
			problems.MissingDataDir(root + "/d"),
		}
		problems.Sort(ps, root)

		var buf bytes.Buffer
		require.NoError(t, report.WriteReport(&buf, ps, root))

		assert.Equal(t, strings.Join([]string{
			"3 problem(s) found.",
			"FATAL MissingFile d",
			"ERROR MissingMFile d/EF/GH",
			"WARN  OrphanMFile d/AB/CD/dir.id",
			"INFO  RootDirectoryInfo .",
			"",
		}, "\n"), buf.String())
	})
}

func TestWriteSummary(t *testing.T) {
	root := "/vault"
	ps := []problems.Problem{
		problems.RootDirectoryInfo(root),
		problems.OrphanMFile(root + "/d/AB/CD/dir.id"),
		problems.SuspectFile(root+"/d/x", "unexpected entry"),
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummary(&buf, ps, "check-result.txt"))

	assert.Equal(t, strings.Join([]string{
		"Found 2 problem(s):",
		"* 0 FATAL",
		"* 1 ERROR",
		"* 1 WARN",
		"* 1 INFO",
		"",
		"See check-result.txt for details.",
		"",
	}, "\n"), buf.String())
}

func TestOutputFilesAreCreateNew(t *testing.T) {
	v := testutil.NewVault(t)
	out := t.TempDir()
	structure := filepath.Join(out, "structure.txt")
	result := filepath.Join(out, "check-result.txt")

	count, err := report.WriteStructureFile(structure, v.Store)
	require.NoError(t, err)
	assert.Positive(t, count)

	_, err = report.WriteStructureFile(structure, v.Store)
	assert.ErrorIs(t, err, models.ErrOutputExists)

	ps := []problems.Problem{problems.RootDirectoryInfo(v.Root)}
	require.NoError(t, report.WriteReportFile(result, ps, v.Root))
	assert.ErrorIs(t, report.WriteReportFile(result, ps, v.Root), models.ErrOutputExists)

	data, err := os.ReadFile(result)
	require.NoError(t, err)
	assert.Equal(t, "0 problem(s) found.\n", string(data))
}
