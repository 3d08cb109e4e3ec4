package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Checksums describes a byte stream.
type Checksums struct {
	Size   int64  `codec:"size" json:"size"`
	MD5    string `codec:"md5" json:"md5"`
	SHA1   string `codec:"sha1" json:"sha1"`
	SHA256 string `codec:"sha256" json:"sha256"`
}

// Writer computes every digest we publish in a
// single pass over the data.
type Writer struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
	w      io.Writer
	size   int64
}

func NewWriter() *Writer {
	w := &Writer{
		md5:    md5.New(),
		sha1:   sha1.New(),
		sha256: sha256.New(),
	}
	w.w = io.MultiWriter(w.md5, w.sha1, w.sha256)
	return w
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.size += int64(n)
	return n, err
}

// Sum returns the checksums of everything written so far.
func (w *Writer) Sum() Checksums {
	return Checksums{
		Size:   w.size,
		MD5:    hex.EncodeToString(w.md5.Sum(nil)),
		SHA1:   hex.EncodeToString(w.sha1.Sum(nil)),
		SHA256: hex.EncodeToString(w.sha256.Sum(nil)),
	}
}

// FromReader drains r and returns its checksums.
func FromReader(r io.Reader) (Checksums, error) {
	w := NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return Checksums{}, err
	}
	return w.Sum(), nil
}
