package problems

// Constructors for every problem kind. Paths are absolute and redacted only on Render.

// RootDirectoryInfo records that the vault root exists. Never counted.
func RootDirectoryInfo(root string) Problem {
	return Problem{Kind: KindRootDirectoryInfo, Severity: Info, Path: root}
}

// MissingMasterkey is a missing primary masterkey file.
func MissingMasterkey(path string) Problem {
	return Problem{Kind: KindMissingFile, Severity: Fatal, Path: path}
}

// MissingDataDir is a missing top-level data directory.
func MissingDataDir(path string) Problem {
	return Problem{Kind: KindMissingFile, Severity: Fatal, Solution: SolutionCreateDirectory, Path: path}
}

// MissingRootDirectory is a missing ciphertext directory of the vault root.
func MissingRootDirectory(path, rootID string) Problem {
	return Problem{Kind: KindMissingFile, Severity: Error, Solution: SolutionCreateCiphertextDir, Path: path, DirID: rootID}
}

// InvalidMasterkeyFile is a masterkey that does not parse or unlock. Backups are only a warning.
func InvalidMasterkeyFile(path string, primary bool, detail string) Problem {
	if primary {
		return Problem{Kind: KindInvalidMasterkeyFile, Severity: Fatal, Path: path, Detail: detail}
	}
	return Problem{Kind: KindInvalidMasterkeyFile, Severity: Warn, Solution: SolutionMarkInvalid, Path: path, Detail: detail}
}

// MissingMFile is a reachable ciphertext directory without its directory-id file.
func MissingMFile(dir, dirID string) Problem {
	return Problem{Kind: KindMissingMFile, Severity: Error, Solution: SolutionWriteDirID, Path: dir, DirID: dirID}
}

// OrphanMFile is a directory-id file in a location no pointer leads to.
func OrphanMFile(path string) Problem {
	return Problem{Kind: KindOrphanMFile, Severity: Warn, Solution: SolutionDeleteDirID, Path: path}
}

// MissingDirectory is a pointer target that is absent, or present but not connected to the pointer.
func MissingDirectory(dir, pointer, dirID string, exists bool, detail string) Problem {
	if exists {
		return Problem{Kind: KindMissingDirectory, Severity: Warn, Path: dir, Other: pointer, DirID: dirID, Detail: detail}
	}
	return Problem{Kind: KindMissingDirectory, Severity: Error, Solution: SolutionCreateCiphertextDir, Path: dir, Other: pointer, DirID: dirID}
}

// OrphanDirectory is a ciphertext directory no pointer leads to. When its directory ID
// is known and valid it can be reattached under the root, otherwise it is removed.
func OrphanDirectory(dir, dirID string, reattachable bool) Problem {
	if reattachable {
		return Problem{Kind: KindOrphanDirectory, Severity: Warn, Solution: SolutionReattach, Path: dir, DirID: dirID}
	}
	return Problem{Kind: KindOrphanDirectory, Severity: Warn, Solution: SolutionRemoveTree, Path: dir}
}

// DuplicateDirectoryPointer is a pointer to a directory already reached via first.
func DuplicateDirectoryPointer(pointer, first, dirID string) Problem {
	return Problem{Kind: KindDuplicateDirectoryPointer, Severity: Error, Path: pointer, Other: first, DirID: dirID}
}

// InvalidDirectoryPointer is a pointer whose content is not a directory ID.
func InvalidDirectoryPointer(pointer, detail string) Problem {
	return Problem{Kind: KindInvalidDirectoryPointer, Severity: Error, Path: pointer, Detail: detail}
}

// SuspectFile is an entry that fails authentication or has an unexpected shape.
func SuspectFile(path, detail string) Problem {
	return Problem{Kind: KindSuspectFile, Severity: Error, Path: path, Detail: detail}
}

// FileWithMissingEqualsSign is an entry whose body lost its base32 padding.
func FileWithMissingEqualsSign(path, dirID string) Problem {
	return Problem{Kind: KindFileWithMissingEqualsSign, Severity: Warn, Solution: SolutionRenameCanonical, Path: path, DirID: dirID}
}

// LowercasedFile is an entry whose body was lower-cased.
func LowercasedFile(path, dirID string) Problem {
	return Problem{Kind: KindLowercasedFile, Severity: Warn, Solution: SolutionRenameCanonical, Path: path, DirID: dirID}
}

// UppercasedFile is an entry whose suffix was upper-cased.
func UppercasedFile(path, dirID string) Problem {
	return Problem{Kind: KindUppercasedFile, Severity: Warn, Solution: SolutionRenameCanonical, Path: path, DirID: dirID}
}

// NameProblem is a decorated entry name with no sibling sharing its plaintext.
func NameProblem(path, dirID string) Problem {
	return Problem{Kind: KindNameProblem, Severity: Warn, Solution: SolutionRenameCanonical, Path: path, DirID: dirID}
}

// Conflict is an entry sharing its plaintext name with the retained sibling.
func Conflict(path, retained, dirID string) Problem {
	return Problem{Kind: KindConflict, Severity: Error, Solution: SolutionRenameConflict, Path: path, Other: retained, DirID: dirID}
}

// FileSizeMismatch is content whose length differs from the header.
func FileSizeMismatch(path string, expected, actual int64) Problem {
	return Problem{Kind: KindFileSizeMismatch, Severity: Error, Path: path, Expected: expected, Actual: actual}
}

// FileContentHeader is a file whose header fails authentication.
func FileContentHeader(path string) Problem {
	return Problem{Kind: KindFileContent, Severity: Error, Path: path, Detail: "header failed authentication"}
}

// FileContent is content with a chunk that fails authentication. Expected is the
// chunk count the header implies, actual the length of the authentic prefix.
func FileContent(path string, expected, actual int64, detail string) Problem {
	return Problem{Kind: KindFileContent, Severity: Error, Path: path, Expected: expected, Actual: actual, Detail: detail}
}

// Exception is an unexpected fault while processing path.
func Exception(path string, err error) Problem {
	return Problem{Kind: KindException, Severity: Error, Path: path, Detail: err.Error()}
}
