// Package checksum computes the content digests used by the hash comparison
// tier and by diff signatures.
package checksum

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"
)

const bufferSize = 64 * 1024 // 64KB buffer

// File returns the base64 encoded SHA-256 digest of a file's content.
func File(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Reader(file)
}

// Reader returns the base64 encoded SHA-256 digest of everything r yields.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buffer := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return encode(h), nil
}

// Bytes returns the base64 encoded SHA-256 digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func encode(h hash.Hash) string {
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Writer hashes and counts everything written through it before passing it
// on to the wrapped writer.
type Writer struct {
	w    io.Writer
	hash hash.Hash
	n    int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, hash: sha256.New()}
}

// Write implements io.Writer
func (t *Writer) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.hash.Write(p[:n])
		t.n += int64(n)
	}
	return n, err
}

// Sum returns the digest of what has been written so far.
func (t *Writer) Sum() string {
	return encode(t.hash)
}

// Written returns the number of bytes written so far.
func (t *Writer) Written() int64 {
	return t.n
}

// Equal compares two base64 encoded digests. An empty digest never matches.
func Equal(a, b string) bool {
	return a != "" && a == b
}
