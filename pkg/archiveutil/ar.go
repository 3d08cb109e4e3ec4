package archiveutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	arTerminator = "`\n"
)

var (
	ErrBadMagic  = errors.New("not an ar archive")
	ErrBadHeader = errors.New("malformed ar header")
	ErrTruncated = errors.New("truncated ar archive")
)

// ArHeader describes a single ar member.
type ArHeader struct {
	Name    string
	ModTime time.Time
	Uid     int
	Gid     int
	Mode    int64
	Size    int64
}

// EntryFunc is called once per member, in archive order.
// Content is written to the returned writer as it arrives.
// A nil writer discards the content. If the writer is an
// io.Closer it is closed once the member ends.
type EntryFunc func(hdr *ArHeader) (io.Writer, error)

type arState int

const (
	stateMagic arState = iota
	stateHeader
	stateContent
	statePad
	stateFailed
)

// ArParser is a push-based ar reader. Bytes may be written
// in chunks of any size and member boundaries are tracked
// purely by the sizes declared in each header.
type ArParser struct {
	fn    EntryFunc
	state arState
	buf   []byte

	hdr       *ArHeader
	sink      io.Writer
	remaining int64
	entries   int

	err error
}

func NewArParser(fn EntryFunc) *ArParser {
	return &ArParser{
		fn:  fn,
		buf: make([]byte, 0, arHeaderSize),
	}
}

// Entries returns the number of members seen so far.
func (p *ArParser) Entries() int {
	return p.entries
}

func (p *ArParser) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n := len(b)
	for len(b) > 0 {
		var err error
		switch p.state {
		case stateMagic:
			b, err = p.fill(b, len(arMagic), p.readMagic)
		case stateHeader:
			b, err = p.fill(b, arHeaderSize, p.readHeader)
		case stateContent:
			b, err = p.stream(b)
		case statePad:
			// the pad byte is always consumed, whatever it holds
			b = b[1:]
			p.state = stateHeader
		}
		if err != nil {
			p.fail(err)
			return n - len(b), err
		}
	}
	return n, nil
}

// Close signals the end of input.
func (p *ArParser) Close() error {
	if p.err != nil {
		return p.err
	}
	switch p.state {
	case stateMagic:
		p.fail(fmt.Errorf("%w: short magic", ErrBadMagic))
	case stateHeader:
		if len(p.buf) > 0 {
			p.fail(fmt.Errorf("%w: %d byte partial header", ErrTruncated, len(p.buf)))
		}
	case stateContent:
		p.fail(fmt.Errorf("%w: %s is missing %d bytes", ErrTruncated, p.hdr.Name, p.remaining))
	}
	// a missing pad byte after the final member is tolerated
	if p.err != nil {
		return p.err
	}
	p.state = stateFailed
	p.err = io.ErrClosedPipe
	return nil
}

// fill accumulates up to size bytes into the internal
// buffer and hands them to fn once complete.
func (p *ArParser) fill(b []byte, size int, fn func([]byte) error) ([]byte, error) {
	want := size - len(p.buf)
	if want > len(b) {
		want = len(b)
	}
	p.buf = append(p.buf, b[:want]...)
	b = b[want:]
	if len(p.buf) < size {
		return b, nil
	}
	err := fn(p.buf)
	p.buf = p.buf[:0]
	return b, err
}

func (p *ArParser) readMagic(b []byte) error {
	if string(b) != arMagic {
		return fmt.Errorf("%w: %q", ErrBadMagic, b)
	}
	p.state = stateHeader
	return nil
}

func (p *ArParser) readHeader(b []byte) error {
	hdr, err := parseArHeader(b)
	if err != nil {
		return err
	}
	p.entries++
	sink, err := p.fn(hdr)
	if err != nil {
		return fmt.Errorf("handling %s: %w", hdr.Name, err)
	}
	p.hdr = hdr
	p.sink = sink
	p.remaining = hdr.Size
	p.state = stateContent
	if hdr.Size == 0 {
		return p.endEntry()
	}
	return nil
}

func (p *ArParser) stream(b []byte) ([]byte, error) {
	chunk := b
	if int64(len(chunk)) > p.remaining {
		chunk = chunk[:p.remaining]
	}
	if p.sink != nil {
		if _, err := p.sink.Write(chunk); err != nil {
			return b, fmt.Errorf("writing %s: %w", p.hdr.Name, err)
		}
	}
	p.remaining -= int64(len(chunk))
	b = b[len(chunk):]
	if p.remaining == 0 {
		return b, p.endEntry()
	}
	return b, nil
}

func (p *ArParser) endEntry() error {
	sink := p.sink
	p.sink = nil
	if p.hdr.Size%2 == 1 {
		p.state = statePad
	} else {
		p.state = stateHeader
	}
	if c, ok := sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", p.hdr.Name, err)
		}
	}
	return nil
}

type closeWithErrorer interface {
	CloseWithError(err error) error
}

func (p *ArParser) fail(err error) {
	p.err = err
	p.state = stateFailed
	if p.sink == nil {
		return
	}
	switch s := p.sink.(type) {
	case closeWithErrorer:
		_ = s.CloseWithError(err)
	case io.Closer:
		_ = s.Close()
	}
	p.sink = nil
}

func parseArHeader(b []byte) (*ArHeader, error) {
	if string(b[58:60]) != arTerminator {
		return nil, fmt.Errorf("%w: bad terminator %q", ErrBadHeader, b[58:60])
	}
	name := strings.TrimRight(string(b[0:16]), " ")
	// GNU ar terminates names with a slash
	if len(name) > 1 && name != "//" {
		name = strings.TrimSuffix(name, "/")
	}
	mtime, err := arNumber(b[16:28], 10)
	if err != nil {
		return nil, fmt.Errorf("%w: mtime: %w", ErrBadHeader, err)
	}
	uid, err := arNumber(b[28:34], 10)
	if err != nil {
		return nil, fmt.Errorf("%w: uid: %w", ErrBadHeader, err)
	}
	gid, err := arNumber(b[34:40], 10)
	if err != nil {
		return nil, fmt.Errorf("%w: gid: %w", ErrBadHeader, err)
	}
	mode, err := arNumber(b[40:48], 8)
	if err != nil {
		return nil, fmt.Errorf("%w: mode: %w", ErrBadHeader, err)
	}
	size, err := arNumber(b[48:58], 10)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: size: %q", ErrBadHeader, b[48:58])
	}
	return &ArHeader{
		Name:    name,
		ModTime: time.Unix(mtime, 0),
		Uid:     int(uid),
		Gid:     int(gid),
		Mode:    mode,
		Size:    size,
	}, nil
}

func arNumber(b []byte, base int) (int64, error) {
	s := string(bytes.TrimSpace(b))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, base, 64)
}

// ReadAr streams r through an ArParser, calling fn for
// every member.
func ReadAr(ctx context.Context, r io.Reader, fn EntryFunc) (int, error) {
	log := logr.FromContextOrDiscard(ctx)
	p := NewArParser(func(hdr *ArHeader) (io.Writer, error) {
		log.V(5).Info("found ar member", "name", hdr.Name, "size", hdr.Size, "mode", hdr.Mode)
		return fn(hdr)
	})
	if _, err := io.Copy(p, NewContextReader(ctx, r)); err != nil {
		log.Error(err, "failed to read ar archive")
		p.fail(err)
		return p.Entries(), err
	}
	if err := p.Close(); err != nil {
		log.Error(err, "failed to read ar archive")
		return p.Entries(), err
	}
	return p.Entries(), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

// NewContextReader returns a reader that fails once
// ctx is cancelled.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
