package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ChunkSize is the plaintext size of a full content chunk.
	ChunkSize = 32 * 1024

	headerPayloadLen = 8 + KeySize
	// HeaderSize is nonce || GCM(length || fileKey).
	HeaderSize = NonceSize + headerPayloadLen + TagSize

	chunkOverhead = NonceSize + TagSize
	fullChunkLen  = ChunkSize + chunkOverhead
)

// ContentResult summarizes the verification of one ciphertext file.
type ContentResult struct {
	DeclaredSize int64
	ActualSize   int64
	Chunks       int64
	BadChunk     int64 // Index of the first chunk failing authentication, -1 if none
	Truncated    bool  // Trailing bytes too short to be a chunk
}

// Authentic reports whether every chunk authenticated.
func (r ContentResult) Authentic() bool {
	return r.BadChunk < 0 && !r.Truncated
}

// SizeMatches reports whether the declared length equals the decrypted length.
func (r ContentResult) SizeMatches() bool {
	return r.DeclaredSize == r.ActualSize
}

// ExpectedChunks returns the number of chunks a plaintext of size bytes encrypts to.
func ExpectedChunks(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + ChunkSize - 1) / ChunkSize
}

// ContentVerifier walks the chunks of a file whose header already authenticated.
type ContentVerifier struct {
	r           io.Reader
	headerNonce []byte
	fileKey     []byte
	declared    int64
}

// DeclaredSize returns the plaintext length recorded in the header.
func (v *ContentVerifier) DeclaredSize() int64 {
	return v.declared
}

// Verify reads the remaining content. Authentication failures are reported in the
// result; only read errors are returned.
func (v *ContentVerifier) Verify() (ContentResult, error) {
	defer wipe(v.fileKey)

	result := ContentResult{DeclaredSize: v.declared, BadChunk: -1}
	buf := make([]byte, fullChunkLen)

	for idx := int64(0); ; idx++ {
		n, err := io.ReadFull(v.r, buf)
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return result, fmt.Errorf("read chunk %d: %w", idx, err)
		}

		result.Chunks++
		if n <= chunkOverhead {
			result.Truncated = true
			if result.BadChunk < 0 {
				result.BadChunk = idx
			}
			return result, nil
		}

		result.ActualSize += int64(n - chunkOverhead)
		if _, openErr := openWithNonce(v.fileKey, buf[:n], chunkAD(v.headerNonce, idx)); openErr != nil && result.BadChunk < 0 {
			result.BadChunk = idx
		}

		if n < fullChunkLen {
			return result, nil
		}
	}
}

func encryptContent(w io.Writer, encKey, plaintext []byte) error {
	defer wipe(encKey)

	headerNonce, err := randomBytes(NonceSize)
	if err != nil {
		return err
	}

	fileKey, err := randomBytes(KeySize)
	if err != nil {
		return err
	}
	defer wipe(fileKey)

	payload := make([]byte, headerPayloadLen)
	binary.BigEndian.PutUint64(payload, uint64(len(plaintext)))
	copy(payload[8:], fileKey)
	defer wipe(payload)

	header, err := sealWithNonce(encKey, headerNonce, payload, nil)
	if err != nil {
		return fmt.Errorf("seal header: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for idx := int64(0); len(plaintext) > 0; idx++ {
		n := len(plaintext)
		if n > ChunkSize {
			n = ChunkSize
		}

		nonce, err := randomBytes(NonceSize)
		if err != nil {
			return err
		}

		chunk, err := sealWithNonce(fileKey, nonce, plaintext[:n], chunkAD(headerNonce, idx))
		if err != nil {
			return fmt.Errorf("seal chunk %d: %w", idx, err)
		}
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("write chunk %d: %w", idx, err)
		}

		plaintext = plaintext[n:]
	}

	return nil
}

func openContent(r io.Reader, encKey []byte) (*ContentVerifier, error) {
	defer wipe(encKey)

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header truncated", ErrInvalidCiphertext)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	payload, err := openWithNonce(encKey, header, nil)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	defer wipe(payload)

	return &ContentVerifier{
		r:           r,
		headerNonce: append([]byte(nil), header[:NonceSize]...),
		fileKey:     append([]byte(nil), payload[8:]...),
		declared:    int64(binary.BigEndian.Uint64(payload[:8])),
	}, nil
}

func chunkAD(headerNonce []byte, idx int64) []byte {
	ad := make([]byte, NonceSize+8)
	copy(ad, headerNonce)
	binary.BigEndian.PutUint64(ad[NonceSize:], uint64(idx))
	return ad
}

// IsContentCorruption reports whether err from OpenContent means the file itself is damaged.
func IsContentCorruption(err error) bool {
	return errors.Is(err, ErrInvalidCiphertext) || errors.Is(err, ErrDecryptionFailed)
}
