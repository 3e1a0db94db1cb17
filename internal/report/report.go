package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/TheMichaelB/vaultcheck/internal/models"
	"github.com/TheMichaelB/vaultcheck/internal/problems"
	"github.com/TheMichaelB/vaultcheck/internal/storage"
)

const kibi = 1024

var kibiPowers = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

// ObfuscateSize renders a size coarsely. Sizes up to and including 1024 bytes are exact.
// Larger sizes use the largest unit the size strictly exceeds 1024 times, truncated.
func ObfuscateSize(size int64) string {
	i := 0
	unit := int64(1)
	for i < len(kibiPowers)-1 && exceedsKibi(size, unit) {
		unit *= kibi
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", size, kibiPowers[i])
	}
	return fmt.Sprintf("~%d %s", size/unit, kibiPowers[i])
}

// exceedsKibi reports size > 1024*unit without overflowing.
func exceedsKibi(size, unit int64) bool {
	q := size / unit
	return q > kibi || (q == kibi && size%unit != 0)
}

// StructureLine formats one dump entry.
func StructureLine(item models.FileItem) string {
	p := item.NormalizedPath()
	switch item.Type {
	case models.EntryDirectory:
		return "d " + p
	case models.EntryFile:
		return fmt.Sprintf("f %s %s", p, ObfuscateSize(item.Size))
	default:
		return "? " + p
	}
}

// WriteStructure writes a line for every path of the vault and returns the count.
// Paths that cannot be read are written as "? <path>".
func WriteStructure(w io.Writer, store storage.Store) (int, error) {
	bw := bufio.NewWriter(w)
	count := 0

	err := store.Walk(func(item models.FileItem, walkErr error) error {
		if walkErr != nil {
			item.Type = models.EntryOther
		}
		count++
		_, err := fmt.Fprintln(bw, StructureLine(item))
		return err
	})
	if err != nil {
		return count, fmt.Errorf("walk vault: %w", err)
	}

	return count, bw.Flush()
}

// WriteReport writes the count line followed by one line per problem.
func WriteReport(w io.Writer, ps []problems.Problem, vaultRoot string) error {
	bw := bufio.NewWriter(w)

	n := problems.Count(ps)
	fmt.Fprintf(bw, "%d problem(s) found.\n", n)
	if n > 0 {
		for _, p := range ps {
			fmt.Fprintf(bw, "%-5s %s\n", p.Severity, p.Render(vaultRoot))
		}
	}

	return bw.Flush()
}

// WriteSummary writes the console summary of a scan.
func WriteSummary(w io.Writer, ps []problems.Problem, reportPath string) error {
	var sb strings.Builder

	counts := problems.CountBySeverity(ps)
	fmt.Fprintf(&sb, "Found %d problem(s):\n", problems.Count(ps))
	for _, severity := range problems.Severities() {
		fmt.Fprintf(&sb, "* %d %s\n", counts[severity], severity)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "See %s for details.\n", reportPath)

	_, err := io.WriteString(w, sb.String())
	return err
}

// CreateFile creates an output file that must not exist yet.
func CreateFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrOutputExists, path)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// WriteStructureFile dumps the vault structure to a new file at path.
func WriteStructureFile(path string, store storage.Store) (int, error) {
	f, err := CreateFile(path)
	if err != nil {
		return 0, err
	}

	count, err := WriteStructure(f, store)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return count, err
}

// WriteReportFile writes the problem report to a new file at path.
func WriteReportFile(path string, ps []problems.Problem, vaultRoot string) error {
	f, err := CreateFile(path)
	if err != nil {
		return err
	}

	err = WriteReport(f, ps, vaultRoot)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
