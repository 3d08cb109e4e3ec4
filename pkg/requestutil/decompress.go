package requestutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

var (
	ContentTypesGzip = []string{
		"application/gzip",
		"application/x-gzip",
	}
	ContentTypesXZ = []string{
		"application/x-xz",
	}
)

const sniffLen = 3072

// Decompress sniffs the first bytes of r and transparently
// decodes gzip or xz content. Anything else is returned
// as-is. Upstream mirrors don't always serve what the
// filename says.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	switch kind := mimetype.Detect(head).String(); {
	case isGzipped(kind):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decompressing gzip: %w", err)
		}
		return gr, nil
	case mimetype.EqualsAny(kind, ContentTypesXZ...):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decompressing xz: %w", err)
		}
		return io.NopCloser(xr), nil
	}
	return io.NopCloser(br), nil
}

func isGzipped(s string) bool {
	return mimetype.EqualsAny(s, ContentTypesGzip...)
}
