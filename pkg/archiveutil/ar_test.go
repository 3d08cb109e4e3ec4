package archiveutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	name string
	data []byte
}

func buildAr(t *testing.T, entries []testEntry) []byte {
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	for _, e := range entries {
		require.NoError(t, w.WriteHeader(&ar.Header{
			Name:    e.name,
			ModTime: time.Unix(1700000000, 0),
			Mode:    0644,
			Size:    int64(len(e.data)),
		}))
		if len(e.data) > 0 {
			_, err := w.Write(e.data)
			require.NoError(t, err)
		}
	}
	return buf.Bytes()
}

// collector records every member it is handed.
type collector struct {
	names   []string
	content map[string]*bytes.Buffer
	closed  map[string]bool
}

func newCollector() *collector {
	return &collector{content: map[string]*bytes.Buffer{}, closed: map[string]bool{}}
}

func (c *collector) entry(hdr *ArHeader) (io.Writer, error) {
	c.names = append(c.names, hdr.Name)
	buf := &bytes.Buffer{}
	c.content[hdr.Name] = buf
	return &closeRecorder{Writer: buf, done: func() { c.closed[hdr.Name] = true }}, nil
}

type closeRecorder struct {
	io.Writer
	done func()
}

func (c *closeRecorder) Close() error {
	c.done()
	return nil
}

func fakeHeader(name string, size int) []byte {
	return []byte(fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, 0, 0, 0, 0644, size))
}

func TestArParser(t *testing.T) {
	entries := []testEntry{
		{"debian-binary", []byte("2.0\n")},
		{"odd.txt", []byte("hello")},
		// content that looks exactly like the next header
		{"header-like", append(fakeHeader("evil", 4), fakeHeader("evil2", 2)...)},
		{"empty", nil},
		{"binary.bin", []byte{0, '!', '<', 'a', 'r', 'c', 'h', '>', '\n', 0xff, '`', '\n', 7}},
		{"last", []byte("end")},
	}
	archive := buildAr(t, entries)

	for _, size := range []int{1, 2, 7, 59, 60, 61, 128, len(archive)} {
		t.Run(fmt.Sprintf("chunk %d", size), func(t *testing.T) {
			c := newCollector()
			p := NewArParser(c.entry)
			for i := 0; i < len(archive); i += size {
				end := min(i+size, len(archive))
				n, err := p.Write(archive[i:end])
				require.NoError(t, err)
				require.EqualValues(t, end-i, n)
			}
			require.NoError(t, p.Close())

			require.Len(t, c.names, len(entries))
			for i, e := range entries {
				assert.EqualValues(t, e.name, c.names[i])
				assert.EqualValues(t, string(e.data), c.content[e.name].String())
				assert.True(t, c.closed[e.name], "entry %s was not closed", e.name)
			}
			assert.EqualValues(t, len(entries), p.Entries())
		})
	}
}

func TestArParser_Errors(t *testing.T) {
	valid := buildAr(t, []testEntry{{"a", []byte("abcdef")}})

	var cases = []struct {
		name string
		in   []byte
		err  error
	}{
		{"bad magic", []byte("!<arck>\nsomething"), ErrBadMagic},
		{"short magic", []byte("!<ar"), ErrBadMagic},
		{"truncated content", valid[:len(valid)-2], ErrTruncated},
		{"truncated header", valid[:8+30], ErrTruncated},
		{"bad terminator", append([]byte(arMagic), bytes.Repeat([]byte{' '}, 60)...), ErrBadHeader},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArParser(newCollector().entry)
			_, err := p.Write(tt.in)
			if err == nil {
				err = p.Close()
			}
			assert.ErrorIs(t, err, tt.err)
			// errors are sticky
			_, err = p.Write([]byte("more"))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestArParser_TruncatedClosesSink(t *testing.T) {
	valid := buildAr(t, []testEntry{{"a", []byte("abcdef")}})
	pr, pw := io.Pipe()
	p := NewArParser(func(*ArHeader) (io.Writer, error) {
		return pw, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(pr)
		done <- err
	}()

	_, err := p.Write(valid[:len(valid)-2])
	require.NoError(t, err)
	assert.ErrorIs(t, p.Close(), ErrTruncated)
	assert.ErrorIs(t, <-done, ErrTruncated)
}

func TestReadAr(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	archive := buildAr(t, []testEntry{{"a", []byte("1")}, {"b", []byte("22")}})

	t.Run("reads all members", func(t *testing.T) {
		c := newCollector()
		n, err := ReadAr(ctx, bytes.NewReader(archive), c.entry)
		assert.NoError(t, err)
		assert.EqualValues(t, 2, n)
		assert.EqualValues(t, []string{"a", "b"}, c.names)
	})
	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ReadAr(cctx, bytes.NewReader(archive), newCollector().entry)
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("entry func error", func(t *testing.T) {
		_, err := ReadAr(ctx, bytes.NewReader(archive), func(*ArHeader) (io.Writer, error) {
			return nil, io.ErrUnexpectedEOF
		})
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
