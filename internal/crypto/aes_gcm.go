package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}

// sealWithNonce returns nonce || ciphertext || tag.
func sealWithNonce(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ad), nil
}

// openWithNonce reverses sealWithNonce.
func openWithNonce(key, sealed, ad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptData encrypts plaintext using AES-GCM with a random nonce.
// Returns: nonce || ciphertext || tag
func EncryptData(plaintext, key []byte) ([]byte, error) {
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	return sealWithNonce(key, nonce, plaintext, nil)
}

// DecryptData decrypts the output of EncryptData.
func DecryptData(ciphertext, key []byte) ([]byte, error) {
	return openWithNonce(key, ciphertext, nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
