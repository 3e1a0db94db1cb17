//go:build integration
// +build integration

package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/client"
	"github.com/TheMichaelB/vaultcheck/internal/config"
	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/test/testutil"
)

func newClient(t *testing.T, outDir, historyDir string) *client.Client {
	t.Helper()

	cfg := testutil.TestConfigWithDir(outDir)
	cfg.History = config.HistoryConfig{Backend: "json", Path: historyDir}
	require.NoError(t, cfg.EnsureDirectories())

	c, err := client.New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func allKinds(t *testing.T) problems.KindSet {
	t.Helper()

	var names []string
	for _, k := range problems.Kinds() {
		names = append(names, string(k))
	}
	kinds, err := problems.ParseKindSet(strings.Join(names, ","))
	require.NoError(t, err)
	return kinds
}

func TestCheckRepairRecheck(t *testing.T) {
	testutil.SkipIfShort(t, "builds and repairs a damaged vault")

	v := testutil.NewVault(t)

	// A healthy tree.
	docs := v.Mkdir(crypto.RootDirID, "docs")
	daily := v.Mkdir(docs, "daily")
	v.WriteFile(crypto.RootDirID, "readme.md", []byte("# vault"))
	for i, name := range []string{"a.md", "b.md", "c.md"} {
		v.WriteFile(daily, name, []byte(strings.Repeat("x", 100*(i+1))))
	}

	// Damage: a reachable directory loses its dir.id.
	v.Remove(filepath.Join(crypto.DirPathForID(docs), crypto.DirIDFileName))

	// Damage: a directory nothing points to.
	lost := crypto.NewDirectoryID()
	v.MakeCiphertextDir(lost)
	v.WriteFile(lost, "lost.md", []byte("lost"))

	// Damage: a sync client left a conflicting copy. The decorated copy sorts
	// first and is retained, so it also needs its canonical name back.
	readme := v.EntryPath(crypto.RootDirID, "readme.md", false)
	v.WriteRaw(strings.TrimSuffix(readme, crypto.FileSuffix)+" (1)"+crypto.FileSuffix, v.ReadRaw(readme))

	// Damage: a case-insensitive filesystem lowercased a name.
	lowered := v.WriteFile(daily, "lower.md", []byte("lower"))
	base := filepath.Base(lowered)
	v.Rename(lowered, filepath.Join(filepath.Dir(lowered), strings.ToLower(strings.TrimSuffix(base, crypto.FileSuffix))+crypto.FileSuffix))

	// Damage: content that cannot be repaired.
	big := v.WriteFile(daily, "big.bin", make([]byte, crypto.ChunkSize+10))
	data := v.ReadRaw(big)
	data[len(data)-1] ^= 0xFF
	v.WriteRaw(big, data)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	historyDir := t.TempDir()

	first, err := newClient(t, t.TempDir(), historyDir).Run(ctx, client.RunOptions{
		VaultPath:  v.Root,
		Passphrase: testutil.TestPassphrase,
		Deep:       true,
		Solve:      allKinds(t),
	})
	require.NoError(t, err)

	found := map[problems.Kind]int{}
	for _, p := range first.Problems {
		found[p.Kind]++
	}
	assert.Equal(t, 1, found[problems.KindMissingMFile])
	assert.Equal(t, 1, found[problems.KindOrphanDirectory])
	assert.Equal(t, 1, found[problems.KindConflict])
	assert.Equal(t, 1, found[problems.KindNameProblem])
	assert.Equal(t, 1, found[problems.KindLowercasedFile])
	assert.Equal(t, 1, found[problems.KindFileContent])

	assert.Len(t, first.Outcomes, 5)
	assert.Empty(t, first.Unresolved())
	assert.Equal(t, 1, first.Remaining())

	report, err := os.ReadFile(first.ReportPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(report), "6 problem(s) found.\n"))

	second, err := newClient(t, t.TempDir(), historyDir).Run(ctx, client.RunOptions{
		VaultPath:  v.Root,
		Passphrase: testutil.TestPassphrase,
		Deep:       true,
	})
	require.NoError(t, err)

	require.Equal(t, 1, problems.Count(second.Problems))
	assert.Equal(t, problems.KindFileContent, second.Problems[0].Kind)

	runs, err := newClient(t, t.TempDir(), historyDir).Runs(v.Root, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.Run.RunID, runs[0].RunID)
	assert.Len(t, runs[1].Repairs, 5)
}

func TestCheckIsDeterministic(t *testing.T) {
	testutil.SkipIfShort(t, "scans the same damaged vault repeatedly")

	v := testutil.NewVault(t)
	for i := 0; i < 5; i++ {
		id := v.Mkdir(crypto.RootDirID, strings.Repeat("d", i+1))
		v.WriteFile(id, "same.md", []byte("x"))
		ptr := v.EntryPath(crypto.RootDirID, strings.Repeat("d", i+1), true)
		v.WriteRaw(strings.TrimSuffix(ptr, crypto.DirSuffix)+" (copy)"+crypto.DirSuffix, []byte(id))
	}
	v.MakeCiphertextDir(crypto.NewDirectoryID())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	var reports []string
	for i := 0; i < 3; i++ {
		result, err := newClient(t, t.TempDir(), t.TempDir()).Run(ctx, client.RunOptions{
			VaultPath:  v.Root,
			Passphrase: testutil.TestPassphrase,
		})
		require.NoError(t, err)

		data, err := os.ReadFile(result.ReportPath)
		require.NoError(t, err)
		reports = append(reports, string(data))
	}

	assert.Equal(t, reports[0], reports[1])
	assert.Equal(t, reports[1], reports[2])
}
