package crypto

import (
	"errors"
	"io"
)

const (
	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	// Scrypt parameters for new masterkeys
	ScryptN       = 32768 // CPU/memory cost parameter
	ScryptR       = 8     // block size parameter
	ScryptP       = 1     // parallelization parameter
	ScryptSaltLen = 32
)

// Errors
var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidKey        = errors.New("invalid key size")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidName       = errors.New("invalid encrypted name")
	ErrDestroyed         = errors.New("cryptor destroyed")
)

// Cryptor is the unlocked capability used to read and repair a vault.
type Cryptor interface {
	// HashDirectoryID maps a directory ID to its ciphertext directory name. Keyless.
	HashDirectoryID(dirID string) string

	// EncryptName encrypts a plaintext name for the directory dirID, returning the canonical body.
	EncryptName(dirID, name string) (string, error)

	// DecryptName authenticates and decrypts a canonical name body within dirID.
	DecryptName(dirID, body string) (string, error)

	// EncryptContent writes plaintext as ciphertext file content.
	EncryptContent(w io.Writer, plaintext []byte) error

	// OpenContent authenticates the file header and returns a verifier for the chunks.
	OpenContent(r io.Reader) (*ContentVerifier, error)

	// Destroy wipes key material.
	Destroy()
}
