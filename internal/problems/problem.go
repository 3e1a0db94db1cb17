package problems

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Solution names the repair bound to a problem. The zero value means report only.
type Solution string

const (
	SolutionNone                Solution = ""
	SolutionCreateDirectory     Solution = "create-directory"
	SolutionCreateCiphertextDir Solution = "create-ciphertext-directory"
	SolutionMarkInvalid         Solution = "mark-invalid"
	SolutionWriteDirID          Solution = "write-dir-id"
	SolutionDeleteDirID         Solution = "delete-dir-id"
	SolutionReattach            Solution = "reattach"
	SolutionRemoveTree          Solution = "remove-tree"
	SolutionRenameCanonical     Solution = "rename-canonical"
	SolutionRenameConflict      Solution = "rename-conflict"
)

// RedactedRoot replaces the vault root in free-form text.
const RedactedRoot = "<vault>"

// Problem is one integrity violation. It is comparable; equal values are the same problem.
type Problem struct {
	Kind     Kind
	Severity Severity
	Solution Solution

	Path  string // Absolute
	Other string // Absolute second path, optional

	DirID    string // Directory the problem belongs to, not rendered
	Expected int64
	Actual   int64
	Detail   string
}

// Solvable reports whether a repair exists for the problem.
func (p Problem) Solvable() bool {
	return p.Solution != SolutionNone
}

// Render returns the canonical text with paths relative to vaultRoot.
func (p Problem) Render(vaultRoot string) string {
	var sb strings.Builder
	sb.WriteString(string(p.Kind))
	sb.WriteByte(' ')
	sb.WriteString(RedactPath(vaultRoot, p.Path))

	if p.Other != "" {
		sb.WriteByte(' ')
		sb.WriteString(RedactPath(vaultRoot, p.Other))
	}

	if p.Kind == KindFileSizeMismatch {
		fmt.Fprintf(&sb, " expected %d, actual %d", p.Expected, p.Actual)
	}

	if p.Detail != "" {
		sb.WriteByte(' ')
		sb.WriteString(RedactText(vaultRoot, p.Detail))
	}

	if p.Kind == KindFileContent && (p.Expected > 0 || p.Actual > 0) {
		fmt.Fprintf(&sb, " (expected %d authentic chunk(s), actual %d)", p.Expected, p.Actual)
	}

	return sb.String()
}

// RedactPath renders path relative to vaultRoot with forward slashes.
func RedactPath(vaultRoot, path string) string {
	rel, err := filepath.Rel(vaultRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return RedactText(vaultRoot, path)
	}
	return filepath.ToSlash(rel)
}

// RedactText replaces every occurrence of vaultRoot in text.
func RedactText(vaultRoot, text string) string {
	if vaultRoot == "" {
		return text
	}
	return strings.ReplaceAll(text, vaultRoot, RedactedRoot)
}

// Sort orders problems by severity, then canonical text.
func Sort(ps []Problem, vaultRoot string) {
	texts := make(map[Problem]string, len(ps))
	for _, p := range ps {
		texts[p] = p.Render(vaultRoot)
	}

	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Severity != ps[j].Severity {
			return ps[i].Severity < ps[j].Severity
		}
		return texts[ps[i]] < texts[ps[j]]
	})
}

// Count returns the number of problems that are not informational.
func Count(ps []Problem) int {
	n := 0
	for _, p := range ps {
		if p.Severity.Counts() {
			n++
		}
	}
	return n
}

// CountBySeverity tallies problems per severity.
func CountBySeverity(ps []Problem) map[Severity]int {
	counts := make(map[Severity]int, len(severityNames))
	for _, s := range Severities() {
		counts[s] = 0
	}
	for _, p := range ps {
		counts[p.Severity]++
	}
	return counts
}

// Select keeps the problems whose kind is in kinds, preserving order.
func Select(ps []Problem, kinds KindSet) []Problem {
	var out []Problem
	for _, p := range ps {
		if kinds.Contains(p.Kind) {
			out = append(out, p)
		}
	}
	return out
}
