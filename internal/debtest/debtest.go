// Package debtest builds .deb archives for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type Member struct {
	Name string
	Data []byte
}

// Build assembles a .deb from the given members.
func Build(t testing.TB, members ...Member) []byte {
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	for _, m := range members {
		require.NoError(t, w.WriteHeader(&ar.Header{
			Name:    m.Name,
			ModTime: time.Unix(1700000000, 0),
			Mode:    0644,
			Size:    int64(len(m.Data)),
		}))
		_, err := w.Write(m.Data)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

// Package builds a well-formed .deb with the given
// control file.
func Package(t testing.TB, control string) []byte {
	return Build(t, DebianBinary(), ControlTar(t, ".gz", map[string]string{"./control": control}), DataTar())
}

// ControlTar creates a control archive compressed
// according to ext.
func ControlTar(t testing.TB, ext string, files map[string]string) Member {
	var tb bytes.Buffer
	tw := tar.NewWriter(&tb)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var out bytes.Buffer
	var cw io.WriteCloser
	var err error
	switch ext {
	case ".gz":
		cw = gzip.NewWriter(&out)
	case ".xz":
		cw, err = xz.NewWriter(&out)
	case ".zst":
		cw, err = zstd.NewWriter(&out)
	default:
		return Member{Name: "control.tar", Data: tb.Bytes()}
	}
	require.NoError(t, err)
	_, err = cw.Write(tb.Bytes())
	require.NoError(t, err)
	require.NoError(t, cw.Close())
	return Member{Name: "control.tar" + ext, Data: out.Bytes()}
}

func DebianBinary() Member {
	return Member{Name: "debian-binary", Data: []byte("2.0\n")}
}

func DataTar() Member {
	// odd length so the member is padded
	return Member{Name: "data.tar.xz", Data: bytes.Repeat([]byte{0xfd, '7', 'z'}, 333)}
}
