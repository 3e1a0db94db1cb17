package crypto

import (
	"crypto/sha256"
	"encoding/base32"
	"path/filepath"
	"strings"
)

// Vault layout, relative to the vault root.
const (
	MasterkeyFileName     = "masterkey.json"
	MasterkeyBackupSuffix = ".bkup"
	DataDirName           = "d"
	DirIDFileName         = "dir.id"
	FileSuffix            = ".enc"
	DirSuffix             = ".dir"

	// RootDirID is the directory ID of the vault root.
	RootDirID = ""

	// DirHashLen is the length of a hashed directory ID.
	DirHashLen = 32
)

// HashDirectoryID returns base32(sha256(dirID)[:20]), the ciphertext directory name for dirID.
func HashDirectoryID(dirID string) string {
	sum := sha256.Sum256([]byte(dirID))
	return base32.StdEncoding.EncodeToString(sum[:20])
}

// CiphertextDirPath returns d/<hash[:2]>/<hash[2:]>.
func CiphertextDirPath(hash string) string {
	if len(hash) < 3 {
		return filepath.Join(DataDirName, hash)
	}
	return filepath.Join(DataDirName, hash[:2], hash[2:])
}

// DirPathForID returns the vault-relative ciphertext directory for dirID.
func DirPathForID(dirID string) string {
	return CiphertextDirPath(HashDirectoryID(dirID))
}

// IsMasterkeyBackup reports whether name is a masterkey backup, e.g. masterkey.json.bkup
// or masterkey.json.1A2B.bkup.
func IsMasterkeyBackup(name string) bool {
	return strings.HasPrefix(name, MasterkeyFileName+".") && strings.HasSuffix(name, MasterkeyBackupSuffix)
}

// EntryName is a parsed child name of a ciphertext directory: <Body><Decoration><Suffix>.
type EntryName struct {
	Raw        string
	Body       string
	Decoration string
	Suffix     string
}

// ParseEntryName splits raw into its parts. It reports false when raw has no
// recognizable suffix or no base32 body.
func ParseEntryName(raw string) (EntryName, bool) {
	if len(raw) <= len(FileSuffix) {
		return EntryName{}, false
	}

	suffix := raw[len(raw)-len(FileSuffix):]
	switch strings.ToLower(suffix) {
	case FileSuffix, DirSuffix:
	default:
		return EntryName{}, false
	}

	rest := raw[:len(raw)-len(suffix)]
	end := 0
	for end < len(rest) && isBase32Char(rest[end]) {
		end++
	}
	if end == 0 {
		return EntryName{}, false
	}

	return EntryName{
		Raw:        raw,
		Body:       rest[:end],
		Decoration: rest[end:],
		Suffix:     suffix,
	}, true
}

// CanonicalBody is the upper-case, correctly padded body.
func (n EntryName) CanonicalBody() string {
	body := strings.TrimRight(strings.ToUpper(n.Body), "=")
	if rem := len(body) % 8; rem != 0 {
		body += strings.Repeat("=", 8-rem)
	}
	return body
}

// Canonical is the name the entry should have on disk.
func (n EntryName) Canonical() string {
	return n.CanonicalBody() + strings.ToLower(n.Suffix)
}

// IsPointer reports whether the entry is a directory pointer.
func (n EntryName) IsPointer() bool {
	return strings.ToLower(n.Suffix) == DirSuffix
}

// PaddingMismatch reports whether the body lost some of its '=' padding.
func (n EntryName) PaddingMismatch() bool {
	return len(n.Body) < len(n.CanonicalBody())
}

// ExcessPadding reports whether the body carries more '=' padding than canonical.
func (n EntryName) ExcessPadding() bool {
	return len(n.Body) > len(n.CanonicalBody())
}

// Lowercased reports whether the body contains lower-case letters.
func (n EntryName) Lowercased() bool {
	return n.Body != strings.ToUpper(n.Body)
}

// Uppercased reports whether the suffix contains upper-case letters.
func (n EntryName) Uppercased() bool {
	return n.Suffix != strings.ToLower(n.Suffix)
}

// Decorated reports whether something sits between body and suffix.
func (n EntryName) Decorated() bool {
	return n.Decoration != ""
}

// CanonicalEntryName returns the on-disk name for an encrypted body.
func CanonicalEntryName(body string, pointer bool) string {
	if pointer {
		return body + DirSuffix
	}
	return body + FileSuffix
}

func isBase32Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		return true
	case c >= '2' && c <= '7', c == '=':
		return true
	}
	return false
}
