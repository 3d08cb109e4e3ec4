package archiveutil

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
)

var ErrFileNotFound = errors.New("file not found in archive")

// maxTarFileSize caps how much of a single member
// ReadTarFile will buffer.
const maxTarFileSize = 16 << 20

// WalkTar calls fn for each regular file in the tar stream.
// Returning true from fn stops the walk and leaves the
// reader positioned at that member.
func WalkTar(ctx context.Context, r io.Reader, fn func(hdr *tar.Header, r io.Reader) (bool, error)) error {
	log := logr.FromContextOrDiscard(ctx)
	tr := tar.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			log.Error(err, "failed to read file from archive")
			return err
		case header == nil:
			continue
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		log.V(6).Info("found tar member", "name", header.Name, "size", header.Size)
		stop, err := fn(header, tr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// ReadTarFile returns the content of the first regular
// file accepted by match.
func ReadTarFile(ctx context.Context, r io.Reader, match func(name string) bool) (string, []byte, error) {
	var name string
	var buf bytes.Buffer
	err := WalkTar(ctx, r, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if !match(hdr.Name) {
			return false, nil
		}
		if hdr.Size > maxTarFileSize {
			return false, fmt.Errorf("%s is too large: %d bytes", hdr.Name, hdr.Size)
		}
		name = hdr.Name
		if _, err := io.Copy(&buf, r); err != nil {
			return false, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		return true, nil
	})
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		return "", nil, ErrFileNotFound
	}
	return name, buf.Bytes(), nil
}
