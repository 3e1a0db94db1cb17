package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/services/scan"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
	"github.com/TheMichaelB/vaultcheck/test/testutil"
)

func runScan(t *testing.T, store storage.Store, cryptor crypto.Cryptor, deep bool) []problems.Problem {
	t.Helper()

	sink := problems.NewSink()
	scanner := scan.NewScanner(store, cryptor, scan.Options{Workers: 4, QueueDepth: 2, Deep: deep}, events.Discard())
	require.NoError(t, scanner.Scan(context.Background(), sink))
	return sink.Problems(store.Root())
}

func rendered(ps []problems.Problem, root string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Render(root)
	}
	return out
}

func byKind(ps []problems.Problem, kinds ...problems.Kind) []problems.Problem {
	var out []problems.Problem
	for _, p := range ps {
		for _, kind := range kinds {
			if p.Kind == kind {
				out = append(out, p)
			}
		}
	}
	return out
}

func TestScan_EmptyVault(t *testing.T) {
	v := testutil.NewVault(t)

	ps := runScan(t, v.Store, v.Cryptor, true)

	assert.Equal(t, []string{"RootDirectoryInfo ."}, rendered(ps, v.Root))
	assert.Zero(t, problems.Count(ps))
}

func TestScan_HealthyVault(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	nested := v.Mkdir(docs, "nested")
	v.WriteFile(crypto.RootDirID, "readme.md", []byte("# vault"))
	v.WriteFile(docs, "a.txt", []byte("alpha"))
	v.WriteFile(nested, "big.bin", make([]byte, crypto.ChunkSize*2+17))
	v.WriteFile(nested, "empty", nil)

	sink := problems.NewSink()
	scanner := scan.NewScanner(v.Store, v.Cryptor, scan.Options{Workers: 2, Deep: true}, events.Discard())
	require.NoError(t, scanner.Scan(context.Background(), sink))

	assert.Equal(t, []string{"RootDirectoryInfo ."}, rendered(sink.Problems(v.Root), v.Root))

	progress := scanner.Progress()
	assert.Equal(t, int64(3), progress.Directories)
	assert.Equal(t, int64(6), progress.Entries)
	assert.Equal(t, int64(4), progress.Verified)
}

func TestScan_Deterministic(t *testing.T) {
	v := testutil.NewVault(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		id := v.Mkdir(crypto.RootDirID, name)
		v.WriteFile(id, "note.txt", []byte(name))
		v.Remove(filepath.Join(crypto.DirPathForID(id), crypto.DirIDFileName))
	}
	v.WriteRaw("d/stray", []byte("x"))

	var runs [][]string
	for _, workers := range []int{1, 3, 8} {
		sink := problems.NewSink()
		scanner := scan.NewScanner(v.Store, v.Cryptor, scan.Options{Workers: workers, Deep: true}, events.Discard())
		require.NoError(t, scanner.Scan(context.Background(), sink))
		runs = append(runs, rendered(sink.Problems(v.Root), v.Root))
	}

	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[0], runs[2])
	assert.Len(t, runs[0], 6)
}

func TestScan_MissingDataDir(t *testing.T) {
	v := testutil.NewVault(t)
	v.Remove(crypto.DataDirName)

	ps := runScan(t, v.Store, v.Cryptor, false)

	assert.Equal(t, []string{"MissingFile d", "RootDirectoryInfo ."}, rendered(ps, v.Root))
	assert.Equal(t, problems.Fatal, ps[0].Severity)
	assert.Equal(t, problems.SolutionCreateDirectory, ps[0].Solution)
}

func TestScan_MissingRootDirectory(t *testing.T) {
	v := testutil.NewVault(t)
	rootDir := crypto.DirPathForID(crypto.RootDirID)
	v.Remove(rootDir)

	ps := runScan(t, v.Store, v.Cryptor, false)

	require.Len(t, ps, 2)
	assert.Equal(t, "MissingFile "+filepath.ToSlash(rootDir), ps[0].Render(v.Root))
	assert.Equal(t, problems.Error, ps[0].Severity)
	assert.Equal(t, problems.SolutionCreateCiphertextDir, ps[0].Solution)
}

func TestScan_MissingMFile(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	v.WriteFile(docs, "a.txt", []byte("alpha"))
	loc := crypto.DirPathForID(docs)
	v.Remove(filepath.Join(loc, crypto.DirIDFileName))

	sink := problems.NewSink()
	scanner := scan.NewScanner(v.Store, v.Cryptor, scan.Options{Workers: 2, Deep: true}, events.Discard())
	require.NoError(t, scanner.Scan(context.Background(), sink))
	ps := sink.Problems(v.Root)

	missing := byKind(ps, problems.KindMissingMFile)
	require.Len(t, missing, 1)
	assert.Equal(t, v.Abs(loc), missing[0].Path)
	assert.Equal(t, docs, missing[0].DirID)
	assert.Equal(t, 1, problems.Count(ps))

	// Traversal continues below a directory without dir.id.
	assert.Equal(t, int64(1), scanner.Progress().Verified)
}

func TestScan_MissingDirectory(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	v.Remove(crypto.DirPathForID(docs))

	ps := runScan(t, v.Store, v.Cryptor, false)

	missing := byKind(ps, problems.KindMissingDirectory)
	require.Len(t, missing, 1)
	assert.Equal(t, problems.Error, missing[0].Severity)
	assert.Equal(t, v.Abs(v.EntryPath(crypto.RootDirID, "docs", true)), missing[0].Other)
	assert.Equal(t, docs, missing[0].DirID)
}

func TestScan_DisconnectedDirectory(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	v.WriteFile(docs, "a.txt", []byte("alpha"))
	loc := crypto.DirPathForID(docs)
	v.WriteRaw(filepath.Join(loc, crypto.DirIDFileName), []byte(crypto.NewDirectoryID()))

	ps := runScan(t, v.Store, v.Cryptor, false)

	missing := byKind(ps, problems.KindMissingDirectory)
	require.Len(t, missing, 1)
	assert.Equal(t, problems.Warn, missing[0].Severity)
	assert.False(t, missing[0].Solvable())
	assert.Contains(t, missing[0].Render(v.Root), "directory id mismatch")

	assert.Empty(t, byKind(ps, problems.KindOrphanDirectory))
}

func TestScan_Orphans(t *testing.T) {
	v := testutil.NewVault(t)

	reattachable := crypto.NewDirectoryID()
	v.MakeCiphertextDir(reattachable)
	v.WriteFile(reattachable, "lost.txt", []byte("lost"))

	onlyDirID := crypto.NewDirectoryID()
	v.MakeCiphertextDir(onlyDirID)

	unknown := crypto.DirPathForID(crypto.NewDirectoryID())
	v.WriteRaw(filepath.Join(unknown, "AAAAAAAA.enc"), []byte("x"))

	ps := runScan(t, v.Store, v.Cryptor, false)

	orphans := byKind(ps, problems.KindOrphanDirectory)
	require.Len(t, orphans, 2)
	for _, p := range orphans {
		switch p.Path {
		case v.Abs(crypto.DirPathForID(reattachable)):
			assert.Equal(t, problems.SolutionReattach, p.Solution)
			assert.Equal(t, reattachable, p.DirID)
		case v.Abs(unknown):
			assert.Equal(t, problems.SolutionRemoveTree, p.Solution)
		default:
			t.Fatalf("unexpected orphan %s", p.Render(v.Root))
		}
	}

	mfiles := byKind(ps, problems.KindOrphanMFile)
	require.Len(t, mfiles, 1)
	assert.Equal(t, v.Abs(filepath.Join(crypto.DirPathForID(onlyDirID), crypto.DirIDFileName)), mfiles[0].Path)
}

func TestScan_DuplicatePointer(t *testing.T) {
	v := testutil.NewVault(t)
	shared := v.Mkdir(crypto.RootDirID, "a")
	second := v.EntryPath(crypto.RootDirID, "b", true)
	v.WriteRaw(second, []byte(shared))

	first := v.EntryPath(crypto.RootDirID, "a", true)
	if filepath.Base(second) < filepath.Base(first) {
		first, second = second, first
	}

	ps := runScan(t, v.Store, v.Cryptor, false)

	dups := byKind(ps, problems.KindDuplicateDirectoryPointer)
	require.Len(t, dups, 1)
	assert.Equal(t, v.Abs(second), dups[0].Path)
	assert.Equal(t, v.Abs(first), dups[0].Other)
	assert.Equal(t, 1, problems.Count(ps))
}

func TestScan_PointerCycle(t *testing.T) {
	v := testutil.NewVault(t)
	a := v.Mkdir(crypto.RootDirID, "a")
	b := v.Mkdir(a, "b")

	back := v.EntryPath(b, "back", true)
	v.WriteRaw(back, []byte(a))
	self := v.EntryPath(b, "self", true)
	v.WriteRaw(self, []byte(b))

	ctx, cancel := testutil.TestTimeout(10 * time.Second)
	defer cancel()

	sink := problems.NewSink()
	scanner := scan.NewScanner(v.Store, v.Cryptor, scan.Options{Workers: 4, QueueDepth: 2}, events.Discard())
	require.NoError(t, scanner.Scan(ctx, sink))
	ps := sink.Problems(v.Root)

	dups := byKind(ps, problems.KindDuplicateDirectoryPointer)
	require.Len(t, dups, 2)

	paths := []string{dups[0].Path, dups[1].Path}
	assert.ElementsMatch(t, []string{v.Abs(back), v.Abs(self)}, paths)
	for _, p := range dups {
		switch p.Path {
		case v.Abs(back):
			assert.Equal(t, a, p.DirID)
			assert.Equal(t, v.Abs(v.EntryPath(crypto.RootDirID, "a", true)), p.Other)
		case v.Abs(self):
			assert.Equal(t, b, p.DirID)
			assert.Equal(t, v.Abs(v.EntryPath(a, "b", true)), p.Other)
		}
	}
	assert.Equal(t, 2, problems.Count(ps))
}

func TestScan_InvalidPointer(t *testing.T) {
	v := testutil.NewVault(t)
	pointer := v.EntryPath(crypto.RootDirID, "docs", true)
	v.WriteRaw(pointer, []byte("not-a-uuid"))

	ps := runScan(t, v.Store, v.Cryptor, false)

	invalid := byKind(ps, problems.KindInvalidDirectoryPointer)
	require.Len(t, invalid, 1)
	assert.Equal(t, v.Abs(pointer), invalid[0].Path)
}

func TestScan_SuspectFiles(t *testing.T) {
	v := testutil.NewVault(t)
	rootDir := crypto.DirPathForID(crypto.RootDirID)
	v.WriteRaw("d/stray.txt", []byte("x"))
	v.WriteRaw(filepath.Join(rootDir, "readme.txt"), []byte("x"))
	v.WriteRaw(filepath.Join(rootDir, "ABCDEFGH.enc"), []byte("x"))
	require.NoError(t, os.MkdirAll(v.Abs(filepath.Join(rootDir, "subdir")), 0755))

	// Valid for another directory, so it fails authentication here.
	other := v.EntryPath(crypto.NewDirectoryID(), "moved.txt", false)
	v.WriteRaw(filepath.Join(rootDir, filepath.Base(other)), []byte("x"))

	ps := runScan(t, v.Store, v.Cryptor, false)

	suspects := rendered(byKind(ps, problems.KindSuspectFile), v.Root)
	rd := filepath.ToSlash(rootDir)
	assert.ElementsMatch(t, []string{
		"SuspectFile d/stray.txt unexpected entry",
		"SuspectFile " + rd + "/readme.txt unexpected entry",
		"SuspectFile " + rd + "/subdir unexpected entry",
		"SuspectFile " + rd + "/ABCDEFGH.enc name authentication failed",
		"SuspectFile " + rd + "/" + filepath.Base(other) + " name authentication failed",
	}, suspects)
	assert.Equal(t, 5, problems.Count(ps))
}

func TestScan_NameShapes(t *testing.T) {
	v := testutil.NewVault(t)
	dir := filepath.ToSlash(crypto.DirPathForID(crypto.RootDirID))

	// 28 bytes of overhead plus five bytes of name needs padding.
	padded := filepath.Base(v.WriteFile(crypto.RootDirID, "a.txt", []byte("a")))
	require.Contains(t, padded, "=")
	unpadded := strings.ReplaceAll(padded, "=", "")
	v.Rename(filepath.Join(dir, padded), filepath.Join(dir, unpadded))

	lower := filepath.Base(v.WriteFile(crypto.RootDirID, "b.txt", []byte("b")))
	lowered := strings.ToLower(strings.TrimSuffix(lower, crypto.FileSuffix)) + crypto.FileSuffix
	v.Rename(filepath.Join(dir, lower), filepath.Join(dir, lowered))

	upper := filepath.Base(v.WriteFile(crypto.RootDirID, "c.txt", []byte("c")))
	uppered := strings.TrimSuffix(upper, crypto.FileSuffix) + ".ENC"
	v.Rename(filepath.Join(dir, upper), filepath.Join(dir, uppered))

	overPadded := filepath.Base(v.WriteFile(crypto.RootDirID, "e.txt", []byte("e")))
	extraPadding := strings.TrimSuffix(overPadded, crypto.FileSuffix) + "========" + crypto.FileSuffix
	v.Rename(filepath.Join(dir, overPadded), filepath.Join(dir, extraPadding))

	decorated := filepath.Base(v.WriteFile(crypto.RootDirID, "d.txt", []byte("d")))
	withCopy := strings.TrimSuffix(decorated, crypto.FileSuffix) + " (1)" + crypto.FileSuffix
	v.Rename(filepath.Join(dir, decorated), filepath.Join(dir, withCopy))

	ps := runScan(t, v.Store, v.Cryptor, true)

	assert.ElementsMatch(t, []string{
		"FileWithMissingEqualsSign " + dir + "/" + unpadded,
		"LowercasedFile " + dir + "/" + lowered,
		"UppercasedFile " + dir + "/" + uppered,
		"NameProblem " + dir + "/" + withCopy,
		"NameProblem " + dir + "/" + extraPadding,
	}, rendered(ps[:len(ps)-1], v.Root))
	assert.Equal(t, "RootDirectoryInfo .", ps[len(ps)-1].Render(v.Root))
}

func TestScan_ConflictWithDecoratedCopy(t *testing.T) {
	v := testutil.NewVault(t)
	dir := crypto.DirPathForID(crypto.RootDirID)
	original := v.WriteFile(crypto.RootDirID, "notes.md", []byte("v1"))
	copyName := strings.TrimSuffix(filepath.Base(original), crypto.FileSuffix) + " (1)" + crypto.FileSuffix
	v.WriteRaw(filepath.Join(dir, copyName), v.ReadRaw(original))

	ps := runScan(t, v.Store, v.Cryptor, false)

	// ' ' sorts before '.', so the decorated copy is retained.
	conflicts := byKind(ps, problems.KindConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, v.Abs(original), conflicts[0].Path)
	assert.Equal(t, v.Abs(filepath.Join(dir, copyName)), conflicts[0].Other)

	names := byKind(ps, problems.KindNameProblem)
	require.Len(t, names, 1)
	assert.Equal(t, v.Abs(filepath.Join(dir, copyName)), names[0].Path)
}

func TestScan_ConflictDeterminism(t *testing.T) {
	v := testutil.NewVault(t)
	dir := crypto.DirPathForID(crypto.RootDirID)
	for _, name := range []string{"BBBBBBBB.enc", "AAAAAAAA.enc", "CCCCCCCC.enc"} {
		v.WriteRaw(filepath.Join(dir, name), []byte("x"))
	}

	cryptor := testutil.NewMockCryptor()
	cryptor.On("DecryptName", crypto.RootDirID, mock.Anything).Return("same.txt", nil)

	var first []string
	for i := 0; i < 5; i++ {
		ps := runScan(t, v.Store, cryptor, false)

		conflicts := byKind(ps, problems.KindConflict)
		require.Len(t, conflicts, 2)
		for _, p := range conflicts {
			assert.Equal(t, v.Abs(filepath.Join(dir, "AAAAAAAA.enc")), p.Other)
		}
		assert.Equal(t, v.Abs(filepath.Join(dir, "BBBBBBBB.enc")), conflicts[0].Path)
		assert.Equal(t, v.Abs(filepath.Join(dir, "CCCCCCCC.enc")), conflicts[1].Path)

		if first == nil {
			first = rendered(ps, v.Root)
		}
		assert.Equal(t, first, rendered(ps, v.Root))
	}

	testutil.AssertMockExpectations(t, cryptor)
}

func TestScan_DeepContent(t *testing.T) {
	v := testutil.NewVault(t)

	flipped := v.WriteFile(crypto.RootDirID, "flipped.bin", []byte("some content"))
	data := v.ReadRaw(flipped)
	data[crypto.HeaderSize+crypto.NonceSize] ^= 0xFF
	v.WriteRaw(flipped, data)

	header := v.WriteFile(crypto.RootDirID, "header.bin", []byte("content"))
	v.WriteRaw(header, v.ReadRaw(header)[:crypto.HeaderSize-1])

	short := v.WriteFile(crypto.RootDirID, "short.bin", make([]byte, crypto.ChunkSize+10))
	v.WriteRaw(short, v.ReadRaw(short)[:crypto.HeaderSize+crypto.ChunkSize+crypto.NonceSize+crypto.TagSize])

	shallow := runScan(t, v.Store, v.Cryptor, false)
	assert.Zero(t, problems.Count(shallow))

	ps := runScan(t, v.Store, v.Cryptor, true)

	assert.ElementsMatch(t, []string{
		"FileContent " + filepath.ToSlash(flipped) + " chunk 0 failed authentication (expected 1 authentic chunk(s), actual 0)",
		"FileContent " + filepath.ToSlash(header) + " header failed authentication",
		"FileSizeMismatch " + filepath.ToSlash(short) + " expected 32778, actual 32768",
	}, rendered(byKind(ps, problems.KindFileContent, problems.KindFileSizeMismatch), v.Root))
}

func TestScan_FaultIsolation(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	broken := v.WriteFile(crypto.RootDirID, "broken.txt", []byte("x"))
	v.WriteFile(crypto.RootDirID, "fine.txt", []byte("y"))
	v.WriteFile(docs, "nested.txt", []byte("z"))
	v.Remove(filepath.Join(crypto.DirPathForID(docs), crypto.DirIDFileName))

	store := storage.NewFaultStore(v.Store)
	store.Fail(broken, errors.New("injected fault"))

	sink := problems.NewSink()
	scanner := scan.NewScanner(store, v.Cryptor, scan.Options{Workers: 2, Deep: true}, events.Discard())
	require.NoError(t, scanner.Scan(context.Background(), sink))
	ps := sink.Problems(v.Root)

	exceptions := byKind(ps, problems.KindException)
	require.Len(t, exceptions, 1)
	assert.Equal(t, v.Abs(broken), exceptions[0].Path)
	assert.Contains(t, exceptions[0].Render(v.Root), "injected fault")

	// Problems elsewhere are still found.
	assert.Len(t, byKind(ps, problems.KindMissingMFile), 1)
	assert.Equal(t, int64(2), scanner.Progress().Verified)
}

func TestScan_UnreadableDirectory(t *testing.T) {
	v := testutil.NewVault(t)
	docs := v.Mkdir(crypto.RootDirID, "docs")
	v.WriteFile(docs, "a.txt", []byte("a"))
	loc := crypto.DirPathForID(docs)

	store := storage.NewFaultStore(v.Store)
	store.Fail(loc, errors.New("permission denied"))

	ps := runScan(t, store, v.Cryptor, false)

	exceptions := byKind(ps, problems.KindException)
	require.Len(t, exceptions, 1)
	assert.Equal(t, v.Abs(loc), exceptions[0].Path)
	assert.Empty(t, byKind(ps, problems.KindOrphanDirectory))
	assert.Empty(t, byKind(ps, problems.KindMissingDirectory))
}

func TestScan_Cancelled(t *testing.T) {
	v := testutil.NewVault(t)
	v.Mkdir(crypto.RootDirID, "docs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := scan.NewScanner(v.Store, v.Cryptor, scan.Options{Workers: 2, Deep: true}, events.Discard())
	err := scanner.Scan(ctx, problems.NewSink())
	assert.ErrorIs(t, err, context.Canceled)
}
