package debian

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/djcass44/all-your-debs/pkg/archiveutil"
	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
	"github.com/go-logr/logr"
)

const (
	memberDebianBinary = "debian-binary"
	memberControl      = "control.tar"
)

// Inspect reads a .deb from r and returns its control
// metadata along with the digests of the whole file.
// The stream is always read to the end so that the
// digests cover every byte.
func Inspect(ctx context.Context, r io.Reader) (*Inspection, error) {
	log := logr.FromContextOrDiscard(ctx)

	dw := digest.NewWriter()
	ex := &extractor{ctx: ctx}
	_, err := archiveutil.ReadAr(ctx, io.TeeReader(r, dw), ex.entry)
	// the control reader must be finished before we
	// look at what it found
	ex.wait()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedPackage, err)
	}
	if err := ex.result(); err != nil {
		log.V(1).Info("rejecting package", "reason", err.Error())
		return nil, err
	}
	sums := dw.Sum()
	log.V(2).Info("inspected package", "package", ex.control.Package(), "version", ex.control.Version(), "arch", ex.control.Architecture(), "size", sums.Size)
	return &Inspection{
		Control:   ex.control,
		Checksums: sums,
		Member:    ex.member,
		Format:    strings.TrimSpace(ex.format.String()),
	}, nil
}

// extractor receives ar members as they are discovered
// and pipes the control archive into a tar walker running
// on its own goroutine.
type extractor struct {
	ctx     context.Context
	index   int
	format  bytes.Buffer
	member  string
	control *control.Fields
	err     error
	done    chan struct{}
}

func (ex *extractor) entry(hdr *archiveutil.ArHeader) (io.Writer, error) {
	ex.index++
	switch {
	case ex.index == 1:
		if hdr.Name != memberDebianBinary {
			return nil, fmt.Errorf("first member is %q, not %s", hdr.Name, memberDebianBinary)
		}
		return &limitedBuffer{buf: &ex.format, n: 32}, nil
	case ex.member != "":
		// only the first control archive is used
		return nil, nil
	case !isControlMember(hdr.Name):
		return nil, nil
	}
	ex.member = hdr.Name
	pr, pw := io.Pipe()
	ex.done = make(chan struct{})
	go func() {
		defer close(ex.done)
		ex.control, ex.err = readControl(ex.ctx, hdr.Name, pr)
		// keep draining so that the parser never blocks
		// on a reader that has already finished
		_, _ = io.Copy(io.Discard, pr)
	}()
	return pw, nil
}

func (ex *extractor) wait() {
	if ex.done != nil {
		<-ex.done
	}
}

func (ex *extractor) result() error {
	if !strings.HasPrefix(strings.TrimSpace(ex.format.String()), "2.") {
		return fmt.Errorf("%w: unsupported format version %q", ErrMalformedPackage, strings.TrimSpace(ex.format.String()))
	}
	if ex.member == "" {
		return fmt.Errorf("%w: no %s.* member", ErrMalformedPackage, memberControl)
	}
	if ex.err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedPackage, ex.member, ex.err)
	}
	return nil
}

// isControlMember matches control.tar and its compressed
// variants, including names some builders prefix.
func isControlMember(name string) bool {
	for _, ext := range []string{"", ".gz", ".xz", ".zst"} {
		if strings.HasSuffix(name, memberControl+ext) {
			return true
		}
	}
	return false
}

func readControl(ctx context.Context, member string, r io.Reader) (*control.Fields, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("member", member)
	dec, err := archiveutil.Decompress(member, r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	name, data, err := archiveutil.ReadTarFile(ctx, dec, func(s string) bool {
		return path.Base(s) == "control"
	})
	if err != nil {
		return nil, err
	}
	log.V(4).Info("found control file", "name", name, "size", len(data))
	fields, err := control.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	return fields, nil
}

// limitedBuffer keeps the first n bytes written to it
// and silently drops the rest.
type limitedBuffer struct {
	buf *bytes.Buffer
	n   int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.n - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
