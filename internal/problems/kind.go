package problems

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/vaultcheck/internal/models"
)

// Kind names a problem variant. The set is closed.
type Kind string

const (
	KindRootDirectoryInfo         Kind = "RootDirectoryInfo"
	KindMissingFile               Kind = "MissingFile"
	KindInvalidMasterkeyFile      Kind = "InvalidMasterkeyFile"
	KindMissingMFile              Kind = "MissingMFile"
	KindOrphanMFile               Kind = "OrphanMFile"
	KindMissingDirectory          Kind = "MissingDirectory"
	KindOrphanDirectory           Kind = "OrphanDirectory"
	KindDuplicateDirectoryPointer Kind = "DuplicateDirectoryPointer"
	KindInvalidDirectoryPointer   Kind = "InvalidDirectoryPointer"
	KindSuspectFile               Kind = "SuspectFile"
	KindFileWithMissingEqualsSign Kind = "FileWithMissingEqualsSign"
	KindLowercasedFile            Kind = "LowercasedFile"
	KindUppercasedFile            Kind = "UppercasedFile"
	KindNameProblem               Kind = "NameProblem"
	KindConflict                  Kind = "Conflict"
	KindFileSizeMismatch          Kind = "FileSizeMismatch"
	KindFileContent               Kind = "FileContent"
	KindException                 Kind = "Exception"
)

var allKinds = []Kind{
	KindRootDirectoryInfo,
	KindMissingFile,
	KindInvalidMasterkeyFile,
	KindMissingMFile,
	KindOrphanMFile,
	KindMissingDirectory,
	KindOrphanDirectory,
	KindDuplicateDirectoryPointer,
	KindInvalidDirectoryPointer,
	KindSuspectFile,
	KindFileWithMissingEqualsSign,
	KindLowercasedFile,
	KindUppercasedFile,
	KindNameProblem,
	KindConflict,
	KindFileSizeMismatch,
	KindFileContent,
	KindException,
}

// Kinds returns every problem kind.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// ParseKind resolves a kind by its exact name.
func ParseKind(name string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnknownProblemKind, name)
}

// KindSet is a selection of problem kinds.
type KindSet map[Kind]struct{}

// ParseKindSet parses a comma-separated list of kind names. Unknown names are rejected.
func ParseKindSet(list string) (KindSet, error) {
	set := make(KindSet)
	for _, part := range strings.Split(list, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}

// Contains reports whether k is selected.
func (s KindSet) Contains(k Kind) bool {
	_, ok := s[k]
	return ok
}

// String lists the selected kinds, sorted.
func (s KindSet) String() string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
