package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

const nameKeyInfo = "vaultcheck name v1"

type dirKeys struct {
	enc []byte
	mac []byte
}

// VaultCryptor is the Cryptor for an unlocked vault. Safe for concurrent use.
type VaultCryptor struct {
	mu        sync.RWMutex
	encKey    []byte
	macKey    []byte
	nameKeys  map[string]dirKeys
	destroyed bool
}

var _ Cryptor = (*VaultCryptor)(nil)

func newVaultCryptor(encKey, macKey []byte) *VaultCryptor {
	return &VaultCryptor{
		encKey:   encKey,
		macKey:   macKey,
		nameKeys: make(map[string]dirKeys),
	}
}

// HashDirectoryID implements Cryptor.
func (c *VaultCryptor) HashDirectoryID(dirID string) string {
	return HashDirectoryID(dirID)
}

// keysFor derives and caches the name keys of one directory.
func (c *VaultCryptor) keysFor(dirID string) (dirKeys, error) {
	c.mu.RLock()
	if c.destroyed {
		c.mu.RUnlock()
		return dirKeys{}, ErrDestroyed
	}
	keys, ok := c.nameKeys[dirID]
	c.mu.RUnlock()
	if ok {
		return keys, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return dirKeys{}, ErrDestroyed
	}
	if keys, ok := c.nameKeys[dirID]; ok {
		return keys, nil
	}

	ikm := make([]byte, 0, 2*KeySize)
	ikm = append(ikm, c.encKey...)
	ikm = append(ikm, c.macKey...)
	defer wipe(ikm)

	okm := make([]byte, 2*KeySize)
	r := hkdf.New(sha256.New, ikm, nil, []byte(nameKeyInfo+dirID))
	if _, err := io.ReadFull(r, okm); err != nil {
		return dirKeys{}, fmt.Errorf("derive directory keys: %w", err)
	}

	keys = dirKeys{enc: okm[:KeySize], mac: okm[KeySize:]}
	c.nameKeys[dirID] = keys
	return keys, nil
}

// EncryptName implements Cryptor. The result is deterministic for (dirID, name).
func (c *VaultCryptor) EncryptName(dirID, name string) (string, error) {
	if err := validatePlainName(name); err != nil {
		return "", err
	}

	keys, err := c.keysFor(dirID)
	if err != nil {
		return "", err
	}

	plain := norm.NFC.String(name)
	mac := hmac.New(sha256.New, keys.mac)
	mac.Write([]byte(plain))
	nonce := mac.Sum(nil)[:NonceSize]

	sealed, err := sealWithNonce(keys.enc, nonce, []byte(plain), []byte(dirID))
	if err != nil {
		return "", fmt.Errorf("encrypt name: %w", err)
	}

	return base32.StdEncoding.EncodeToString(sealed), nil
}

// DecryptName implements Cryptor. body must be canonical: upper-case and padded.
func (c *VaultCryptor) DecryptName(dirID, body string) (string, error) {
	sealed, err := base32.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	if base32.StdEncoding.EncodeToString(sealed) != body {
		return "", fmt.Errorf("%w: not canonical", ErrInvalidName)
	}

	if len(sealed) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidName, len(sealed))
	}

	keys, err := c.keysFor(dirID)
	if err != nil {
		return "", err
	}

	plain, err := openWithNonce(keys.enc, sealed, []byte(dirID))
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

// EncryptContent implements Cryptor.
func (c *VaultCryptor) EncryptContent(w io.Writer, plaintext []byte) error {
	encKey, err := c.contentKey()
	if err != nil {
		return err
	}
	return encryptContent(w, encKey, plaintext)
}

// OpenContent implements Cryptor.
func (c *VaultCryptor) OpenContent(r io.Reader) (*ContentVerifier, error) {
	encKey, err := c.contentKey()
	if err != nil {
		return nil, err
	}
	return openContent(r, encKey)
}

func (c *VaultCryptor) contentKey() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	return append([]byte(nil), c.encKey...), nil
}

// Destroy implements Cryptor.
func (c *VaultCryptor) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	wipe(c.encKey)
	wipe(c.macKey)
	for id, keys := range c.nameKeys {
		wipe(keys.enc)
		wipe(keys.mac)
		delete(c.nameKeys, id)
	}
	c.destroyed = true
}

func validatePlainName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	}
	return nil
}
