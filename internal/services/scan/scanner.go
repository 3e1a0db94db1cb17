package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/vaultcheck/internal/crypto"
	"github.com/TheMichaelB/vaultcheck/internal/events"
	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

const contentBufferSize = 64 * 1024

// Options configures a scan.
type Options struct {
	Workers    int
	QueueDepth int
	Deep       bool
}

// Progress counts what a scan has processed so far.
type Progress struct {
	Directories int64
	Entries     int64
	Verified    int64
}

// Scanner walks a vault and reports every structural problem to a sink.
type Scanner struct {
	store   storage.Store
	cryptor crypto.Cryptor
	logger  *events.Logger

	// Configuration
	workers    int
	queueDepth int
	deep       bool

	// Progress tracking
	dirs     atomic.Int64
	entries  atomic.Int64
	verified atomic.Int64
}

type locState int

const (
	locTraversed locState = iota
	locAbsent
	locNotDirectory
	locDisconnected
	locFaulted
)

type dirTask struct {
	id      string
	logical string
	pointer string // Vault-relative pointer that led here, empty for the root
}

type entry struct {
	path  string
	name  crypto.EntryName
	plain string
}

type pointer struct {
	entry
	childID string
}

type dirResult struct {
	task     dirTask
	location string
	state    locState
	entries  []entry
	pointers []pointer
}

// layout is what exists under the data directory, independent of reachability.
type layout struct {
	dirs  map[string]bool
	files []string
}

// NewScanner creates a scanner.
func NewScanner(store storage.Store, cryptor crypto.Cryptor, opts Options, logger *events.Logger) *Scanner {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueDepth := opts.QueueDepth
	if queueDepth < 1 {
		queueDepth = workers
	}

	return &Scanner{
		store:      store,
		cryptor:    cryptor,
		logger:     logger.WithField("component", "scanner"),
		workers:    workers,
		queueDepth: queueDepth,
		deep:       opts.Deep,
	}
}

// Progress returns current counters.
func (s *Scanner) Progress() Progress {
	return Progress{
		Directories: s.dirs.Load(),
		Entries:     s.entries.Load(),
		Verified:    s.verified.Load(),
	}
}

// Scan reports problems of the vault to sink. Faults of single entries become
// Exception problems; only cancellation is returned as an error.
func (s *Scanner) Scan(ctx context.Context, sink *problems.Sink) error {
	start := time.Now()
	sink.Report(problems.RootDirectoryInfo(s.store.Root()))

	info, err := s.store.Stat(crypto.DataDirName)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sink.Report(problems.MissingDataDir(s.store.Abs(crypto.DataDirName)))
		return nil
	case err != nil:
		s.fault(sink, crypto.DataDirName, "stat", err)
		return nil
	case !info.IsDir:
		sink.Report(problems.MissingDataDir(s.store.Abs(crypto.DataDirName)))
		return nil
	}

	s.logger.WithFields(map[string]interface{}{
		"workers": s.workers,
		"deep":    s.deep,
	}).Info("Starting scan")

	var content *contentQueue
	if s.deep {
		content = s.startContentWorkers(ctx, sink)
	}

	var (
		found   *layout
		visited []dirResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		found, err = s.enumerate(gctx, sink)
		return err
	})
	g.Go(func() error {
		var err error
		visited, err = s.traverse(gctx, sink, content)
		return err
	})

	err = g.Wait()
	if content != nil {
		if cerr := content.close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}

	s.reconcile(found, visited, sink)

	progress := s.Progress()
	s.logger.WithFields(map[string]interface{}{
		"directories": progress.Directories,
		"entries":     progress.Entries,
		"verified":    progress.Verified,
		"problems":    sink.Len(),
		"duration":    time.Since(start).String(),
	}).Info("Scan complete")

	return nil
}

// enumerate lists every ciphertext directory location under the data directory.
func (s *Scanner) enumerate(ctx context.Context, sink *problems.Sink) (*layout, error) {
	found := &layout{dirs: make(map[string]bool)}

	prefixes, err := s.store.ListDir(crypto.DataDirName)
	if err != nil {
		s.fault(sink, crypto.DataDirName, "list", err)
		return found, nil
	}

	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !prefix.IsDir {
			found.files = append(found.files, prefix.Path)
			continue
		}

		children, err := s.store.ListDir(prefix.Path)
		if err != nil {
			s.fault(sink, prefix.Path, "list", err)
			continue
		}

		for _, child := range children {
			if child.IsDir {
				found.dirs[child.Path] = true
			} else {
				found.files = append(found.files, child.Path)
			}
		}
	}

	return found, nil
}

// traverse visits reachable directories breadth first, one level at a time.
func (s *Scanner) traverse(ctx context.Context, sink *problems.Sink, content *contentQueue) ([]dirResult, error) {
	var all []dirResult
	seen := map[string]string{crypto.RootDirID: ""}
	level := []dirTask{{id: crypto.RootDirID, logical: "/"}}

	for depth := 0; len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.logger.WithFields(map[string]interface{}{
			"depth":       depth,
			"directories": len(level),
		}).Debug("Scanning level")

		results := make([]dirResult, len(level))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)

		for i, task := range level {
			i, task := i, task
			g.Go(func() error {
				result, err := s.scanDirectory(gctx, task, sink, content)
				results[i] = result
				return err
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		all = append(all, results...)
		level = s.nextLevel(results, seen, sink)
	}

	return all, nil
}

// nextLevel follows the pointers of one level in a fixed order, so that the first
// pointer to a directory is the same no matter how the level was scheduled.
func (s *Scanner) nextLevel(results []dirResult, seen map[string]string, sink *problems.Sink) []dirTask {
	type edge struct {
		parent string
		p      pointer
	}

	var edges []edge
	for _, r := range results {
		for _, p := range r.pointers {
			edges = append(edges, edge{parent: r.task.logical, p: p})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.parent != b.parent {
			return a.parent < b.parent
		}
		if a.p.name.Raw != b.p.name.Raw {
			return a.p.name.Raw < b.p.name.Raw
		}
		return a.p.path < b.p.path
	})

	var next []dirTask
	for _, e := range edges {
		if first, ok := seen[e.p.childID]; ok {
			sink.Report(problems.DuplicateDirectoryPointer(s.store.Abs(e.p.path), s.abs(first), e.p.childID))
			continue
		}

		seen[e.p.childID] = e.p.path
		next = append(next, dirTask{
			id:      e.p.childID,
			logical: joinLogical(e.parent, e.p.plain),
			pointer: e.p.path,
		})
	}

	return next
}

// scanDirectory checks one reachable directory and its entries.
func (s *Scanner) scanDirectory(ctx context.Context, task dirTask, sink *problems.Sink, content *contentQueue) (dirResult, error) {
	result := dirResult{task: task, location: crypto.DirPathForID(task.id)}

	info, err := s.store.Stat(result.location)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		result.state = locAbsent
		return result, nil
	case err != nil:
		s.fault(sink, result.location, "stat", err)
		result.state = locFaulted
		return result, nil
	case !info.IsDir:
		result.state = locNotDirectory
		return result, nil
	}

	idPath := filepath.Join(result.location, crypto.DirIDFileName)
	data, err := s.store.Read(idPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sink.Report(problems.MissingMFile(s.store.Abs(result.location), task.id))
	case err != nil:
		s.fault(sink, idPath, "read", err)
	case string(data) != task.id:
		result.state = locDisconnected
		return result, nil
	}

	children, err := s.store.ListDir(result.location)
	if err != nil {
		s.fault(sink, result.location, "list", err)
		return result, nil
	}
	s.dirs.Add(1)

	for _, child := range children {
		if child.Name == crypto.DirIDFileName {
			continue
		}
		s.entries.Add(1)

		if err := s.scanEntry(ctx, task, child, &result, sink, content); err != nil {
			return result, err
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"location": result.location,
		"logical":  task.logical,
		"entries":  len(result.entries),
	}).Debug("Scanned directory")

	return result, nil
}

// scanEntry classifies one child of a ciphertext directory.
func (s *Scanner) scanEntry(ctx context.Context, task dirTask, child storage.FileInfo, result *dirResult, sink *problems.Sink, content *contentQueue) error {
	defer func() {
		if r := recover(); r != nil {
			s.fault(sink, child.Path, "scan", fmt.Errorf("panic: %v", r))
		}
	}()

	abs := s.store.Abs(child.Path)
	if !child.IsRegular() {
		sink.Report(problems.SuspectFile(abs, "unexpected entry"))
		return nil
	}

	name, ok := crypto.ParseEntryName(child.Name)
	if !ok {
		sink.Report(problems.SuspectFile(abs, "unexpected entry"))
		return nil
	}

	plain, err := s.cryptor.DecryptName(task.id, name.CanonicalBody())
	if err != nil {
		if isNameCorruption(err) {
			sink.Report(problems.SuspectFile(abs, "name authentication failed"))
			return nil
		}
		s.fault(sink, child.Path, "decrypt name", err)
		return nil
	}

	e := entry{path: child.Path, name: name, plain: plain}
	result.entries = append(result.entries, e)

	if name.IsPointer() {
		data, err := s.store.Read(child.Path)
		if err != nil {
			s.fault(sink, child.Path, "read", err)
			return nil
		}

		id, err := crypto.ParseDirectoryID(data)
		if err != nil {
			sink.Report(problems.InvalidDirectoryPointer(abs, "content is not a directory id"))
			return nil
		}

		result.pointers = append(result.pointers, pointer{entry: e, childID: id})
		return nil
	}

	if content != nil {
		return content.submit(ctx, child.Path)
	}
	return nil
}

// reconcile compares what exists with what was reached and checks entry names.
func (s *Scanner) reconcile(found *layout, visited []dirResult, sink *problems.Sink) {
	claimed := make(map[string]bool, len(visited))

	for _, r := range visited {
		claimed[r.location] = true
		s.reportLocation(r, sink)
		s.reportNames(r, sink)
	}

	dirs := make([]string, 0, len(found.dirs))
	for dir := range found.dirs {
		if !claimed[dir] {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		s.classifyOrphan(dir, sink)
	}

	for _, file := range found.files {
		if claimed[file] {
			continue
		}

		abs := s.store.Abs(file)
		if filepath.Base(file) == crypto.DirIDFileName && filepath.Dir(file) != crypto.DataDirName {
			sink.Report(problems.OrphanMFile(abs))
		} else {
			sink.Report(problems.SuspectFile(abs, "unexpected entry"))
		}
	}
}

func (s *Scanner) reportLocation(r dirResult, sink *problems.Sink) {
	abs := s.store.Abs(r.location)

	switch r.state {
	case locAbsent:
		if r.task.id == crypto.RootDirID {
			sink.Report(problems.MissingRootDirectory(abs, crypto.RootDirID))
			return
		}
		sink.Report(problems.MissingDirectory(abs, s.abs(r.task.pointer), r.task.id, false, ""))
	case locNotDirectory:
		sink.Report(problems.MissingDirectory(abs, s.abs(r.task.pointer), r.task.id, true, "not a directory"))
	case locDisconnected:
		sink.Report(problems.MissingDirectory(abs, s.abs(r.task.pointer), r.task.id, true, "directory id mismatch"))
	}
}

// reportNames groups the entries of a directory by plaintext name. The entry with
// the smallest ciphertext name is retained; every other entry of the group is a conflict.
func (s *Scanner) reportNames(r dirResult, sink *problems.Sink) {
	groups := make(map[string][]entry)
	for _, e := range r.entries {
		groups[e.plain] = append(groups[e.plain], e)
	}

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].name.Raw < group[j].name.Raw
		})

		retained := group[0]
		retainedAbs := s.store.Abs(retained.path)
		for _, e := range group[1:] {
			sink.Report(problems.Conflict(s.store.Abs(e.path), retainedAbs, r.task.id))
		}

		if p, ok := shapeProblem(retainedAbs, retained.name, r.task.id); ok {
			sink.Report(p)
		}
	}
}

// shapeProblem returns at most one name-shape problem, most specific first.
func shapeProblem(abs string, name crypto.EntryName, dirID string) (problems.Problem, bool) {
	switch {
	case name.PaddingMismatch():
		return problems.FileWithMissingEqualsSign(abs, dirID), true
	case name.Lowercased():
		return problems.LowercasedFile(abs, dirID), true
	case name.Uppercased():
		return problems.UppercasedFile(abs, dirID), true
	case name.Decorated(), name.ExcessPadding():
		return problems.NameProblem(abs, dirID), true
	}
	return problems.Problem{}, false
}

// classifyOrphan reports an unreachable ciphertext directory.
func (s *Scanner) classifyOrphan(dir string, sink *problems.Sink) {
	abs := s.store.Abs(dir)

	children, err := s.store.ListDir(dir)
	if err != nil {
		s.fault(sink, dir, "list", err)
		return
	}

	hasDirID := false
	others := 0
	for _, child := range children {
		if child.Name == crypto.DirIDFileName && child.IsRegular() {
			hasDirID = true
			continue
		}
		others++
	}

	if hasDirID && others == 0 {
		sink.Report(problems.OrphanMFile(filepath.Join(abs, crypto.DirIDFileName)))
		return
	}

	if hasDirID {
		data, err := s.store.Read(filepath.Join(dir, crypto.DirIDFileName))
		if err == nil {
			if id, err := crypto.ParseDirectoryID(data); err == nil && crypto.DirPathForID(id) == dir {
				sink.Report(problems.OrphanDirectory(abs, id, true))
				return
			}
		}
	}

	sink.Report(problems.OrphanDirectory(abs, "", false))
}

// verifyContent authenticates the header and every chunk of one file.
func (s *Scanner) verifyContent(path string, sink *problems.Sink) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(sink, path, "verify", fmt.Errorf("panic: %v", r))
		}
	}()

	abs := s.store.Abs(path)

	f, err := s.store.Open(path)
	if err != nil {
		s.fault(sink, path, "open", err)
		return
	}
	defer f.Close()

	verifier, err := s.cryptor.OpenContent(bufio.NewReaderSize(f, contentBufferSize))
	if err != nil {
		if crypto.IsContentCorruption(err) {
			sink.Report(problems.FileContentHeader(abs))
			return
		}
		s.fault(sink, path, "read", err)
		return
	}

	result, err := verifier.Verify()
	if err != nil {
		s.fault(sink, path, "read", err)
		return
	}
	s.verified.Add(1)

	expected := crypto.ExpectedChunks(result.DeclaredSize)
	switch {
	case result.Truncated:
		sink.Report(problems.FileContent(abs, expected, result.BadChunk, fmt.Sprintf("chunk %d truncated", result.BadChunk)))
	case result.BadChunk >= 0:
		sink.Report(problems.FileContent(abs, expected, result.BadChunk, fmt.Sprintf("chunk %d failed authentication", result.BadChunk)))
	}

	if !result.SizeMatches() {
		sink.Report(problems.FileSizeMismatch(abs, result.DeclaredSize, result.ActualSize))
	}
}

// fault records an unexpected failure on one path and lets the scan continue.
func (s *Scanner) fault(sink *problems.Sink, path, op string, err error) {
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"path": path,
		"op":   op,
	}).Warn("Entry fault")

	sink.Report(problems.Exception(s.store.Abs(path), &models.EntryFault{Path: path, Op: op, Err: err}))
}

func (s *Scanner) abs(path string) string {
	if path == "" {
		return ""
	}
	return s.store.Abs(path)
}

func isNameCorruption(err error) bool {
	return errors.Is(err, crypto.ErrInvalidName) ||
		errors.Is(err, crypto.ErrDecryptionFailed) ||
		errors.Is(err, crypto.ErrInvalidCiphertext)
}

func joinLogical(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
