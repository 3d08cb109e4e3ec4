package index

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
	"github.com/go-logr/logr"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

const (
	defaultQueueSize = 16
	defaultChunkSize = 32 << 10
	defaultTimeout   = 30 * time.Second
)

func NewBuilder(opts Options) *Builder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Builder{opts: opts}
}

// BuildPackages generates the Packages file for the given
// records once and feeds the bytes to an encoder per
// requested encoding. Each key of sinks selects an encoding
// and its encoded output is copied to the writer (nil means
// digest only). The returned checksums describe the encoded
// bytes of each encoding.
//
// BuildPackages does not return while an encoder is still
// running, so no sink is written to after it returns.
func (b *Builder) BuildPackages(ctx context.Context, distribution, component string, records []*control.Fields, sinks map[Encoding]io.Writer) (map[Encoding]digest.Checksums, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("distribution", distribution, "component", component, "records", len(records))
	start := time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	branches := make([]*branch, 0, len(sinks))
	for _, enc := range Encodings {
		sink, ok := sinks[enc]
		if !ok {
			continue
		}
		if sink == nil {
			sink = io.Discard
		}
		branches = append(branches, &branch{
			enc:  enc,
			sink: &guardedWriter{ctx: ctx, w: sink},
			ch:   make(chan []byte, b.opts.QueueSize),
			done: make(chan struct{}),
		})
	}
	for _, br := range branches {
		go func(br *branch) {
			br.err = br.run(ctx)
			close(br.done)
		}(br)
	}
	// fail stops every branch and waits for them to exit
	fail := func(err error, msg string, kv ...any) (map[Encoding]digest.Checksums, error) {
		cancel(err)
		for _, br := range branches {
			<-br.done
		}
		log.Error(err, msg, kv...)
		observeBuild(err, start)
		return nil, err
	}

	fan := &fanout{ctx: ctx, branches: branches, timeout: b.opts.Timeout}
	bw := bufio.NewWriterSize(fan, b.opts.ChunkSize)
	err := WritePackages(bw, distribution, component, records)
	if err == nil {
		err = bw.Flush()
	}
	fan.close()
	if err != nil {
		return fail(err, "failed to generate packages index")
	}

	out := make(map[Encoding]digest.Checksums, len(branches))
	timer := time.NewTimer(b.opts.Timeout)
	defer timer.Stop()
	for _, br := range branches {
		select {
		case <-br.done:
			if err := br.err; err != nil {
				return fail(err, "failed to encode packages index", "encoding", br.enc.String())
			}
			out[br.enc] = br.sums
		case <-timer.C:
			return fail(fmt.Errorf("%w: %s encoder did not finish", ErrStalled, br.enc), "failed to encode packages index")
		}
	}
	log.V(3).Info("built packages index", "duration", time.Since(start))
	observeBuild(nil, start)
	return out, nil
}

// guardedWriter drops writes once the build has been
// cancelled.
type guardedWriter struct {
	ctx context.Context
	w   io.Writer
}

func (g *guardedWriter) Write(p []byte) (int, error) {
	if g.ctx.Err() != nil {
		return 0, context.Cause(g.ctx)
	}
	return g.w.Write(p)
}

// branch encodes one copy of the generated stream.
type branch struct {
	enc  Encoding
	sink io.Writer
	ch   chan []byte
	done chan struct{}
	err  error
	sums digest.Checksums
}

func (br *branch) run(ctx context.Context) error {
	hasher := digest.NewWriter()
	out := io.MultiWriter(hasher, br.sink)

	var w io.WriteCloser
	switch br.enc {
	case Gzip:
		gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
		if err != nil {
			return err
		}
		w = gw
	case XZ:
		xw, err := xz.NewWriter(out)
		if err != nil {
			return err
		}
		w = xw
	default:
		w = nopWriteCloser{out}
	}

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case chunk, ok := <-br.ch:
			if !ok {
				if err := w.Close(); err != nil {
					return fmt.Errorf("closing %s encoder: %w", br.enc, err)
				}
				br.sums = hasher.Sum()
				return nil
			}
			if _, err := w.Write(chunk); err != nil {
				return fmt.Errorf("writing %s: %w", br.enc, err)
			}
		}
	}
}

// fanout copies each write to every branch. A branch
// that cannot accept a chunk within the timeout fails
// the whole build.
type fanout struct {
	ctx      context.Context
	branches []*branch
	timeout  time.Duration
}

func (f *fanout) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	for _, br := range f.branches {
		select {
		case br.ch <- chunk:
		case <-f.ctx.Done():
			return 0, context.Cause(f.ctx)
		case <-br.done:
			if br.err != nil {
				return 0, br.err
			}
			return 0, fmt.Errorf("%s encoder exited early", br.enc)
		case <-timer.C:
			return 0, fmt.Errorf("%w: %s queue is full", ErrStalled, br.enc)
		}
	}
	return len(p), nil
}

func (f *fanout) close() {
	for _, br := range f.branches {
		close(br.ch)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
