package debian

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/djcass44/all-your-debs/internal/debtest"
	"github.com/djcass44/all-your-debs/pkg/archiveutil"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testControl = `Package: foo
Version: 1.0
Architecture: amd64
Maintainer: Jane Doe <jane@example.com>
Description: a test package
 with a longer description.
`

func TestInspect(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	for _, ext := range []string{".gz", ".xz", ".zst", ""} {
		t.Run("control.tar"+ext, func(t *testing.T) {
			deb := debtest.Build(t,
				debtest.DebianBinary(),
				debtest.ControlTar(t, ext, map[string]string{"./control": testControl, "./md5sums": "x  usr/bin/foo\n"}),
				debtest.DataTar(),
			)

			out, err := Inspect(ctx, bytes.NewReader(deb))
			require.NoError(t, err)

			assert.EqualValues(t, "foo", out.Control.Package())
			assert.EqualValues(t, "1.0", out.Control.Version())
			assert.EqualValues(t, "amd64", out.Control.Architecture())
			assert.EqualValues(t, "control.tar"+ext, out.Member)
			assert.EqualValues(t, "2.0", out.Format)

			// digests must cover the whole file
			md5sum := md5.Sum(deb)
			sha1sum := sha1.Sum(deb)
			sha256sum := sha256.Sum256(deb)
			assert.EqualValues(t, len(deb), out.Checksums.Size)
			assert.EqualValues(t, hex.EncodeToString(md5sum[:]), out.Checksums.MD5)
			assert.EqualValues(t, hex.EncodeToString(sha1sum[:]), out.Checksums.SHA1)
			assert.EqualValues(t, hex.EncodeToString(sha256sum[:]), out.Checksums.SHA256)
		})
	}
}

func TestInspect_FirstControlMemberWins(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	deb := debtest.Build(t,
		debtest.DebianBinary(),
		debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl}),
		debtest.ControlTar(t, ".xz", map[string]string{"./control": "Package: bar\nVersion: 2\nArchitecture: all\n"}),
		debtest.DataTar(),
	)
	out, err := Inspect(ctx, bytes.NewReader(deb))
	require.NoError(t, err)
	assert.EqualValues(t, "foo", out.Control.Package())
}

func TestInspect_PrefixedControlMember(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	member := debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl})
	member.Name = "_control.tar.gz"
	deb := debtest.Build(t, debtest.DebianBinary(), member, debtest.DataTar())

	out, err := Inspect(ctx, bytes.NewReader(deb))
	require.NoError(t, err)
	assert.EqualValues(t, "_control.tar.gz", out.Member)
	assert.EqualValues(t, "foo", out.Control.Package())
}

func TestIsControlMember(t *testing.T) {
	var cases = []struct {
		name string
		ok   bool
	}{
		{"control.tar", true},
		{"control.tar.gz", true},
		{"control.tar.xz", true},
		{"control.tar.zst", true},
		{"_control.tar.xz", true},
		{"data.tar.gz", false},
		{"control.tar.bz2", false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, tt.ok, isControlMember(tt.name))
		})
	}
}

func TestInspect_Malformed(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	valid := debtest.Build(t, debtest.DebianBinary(), debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl}), debtest.DataTar())

	var cases = []struct {
		name string
		in   []byte
	}{
		{
			"not an archive",
			[]byte("PK\x03\x04 definitely a zip file"),
		},
		{
			"truncated",
			valid[:len(valid)-100],
		},
		{
			"no control member",
			debtest.Build(t, debtest.DebianBinary(), debtest.DataTar()),
		},
		{
			"no control file",
			debtest.Build(t, debtest.DebianBinary(), debtest.ControlTar(t, ".gz", map[string]string{"./postinst": "#!/bin/sh\n"}), debtest.DataTar()),
		},
		{
			"missing architecture",
			debtest.Build(t, debtest.DebianBinary(), debtest.ControlTar(t, ".xz", map[string]string{"./control": "Package: foo\nVersion: 1.0\n"}), debtest.DataTar()),
		},
		{
			"wrong first member",
			debtest.Build(t, debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl}), debtest.DebianBinary(), debtest.DataTar()),
		},
		{
			"unsupported format",
			debtest.Build(t, debtest.Member{Name: "debian-binary", Data: []byte("3.0\n")}, debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl})),
		},
		{
			"corrupt control archive",
			debtest.Build(t, debtest.DebianBinary(), debtest.Member{Name: "control.tar.gz", Data: []byte("not gzip")}, debtest.DataTar()),
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Inspect(ctx, bytes.NewReader(tt.in))
			assert.ErrorIs(t, err, ErrMalformedPackage)
			assert.Nil(t, out)
		})
	}

	t.Run("bad magic is reported", func(t *testing.T) {
		_, err := Inspect(ctx, bytes.NewReader([]byte("!<arck>\nxxxxxxxx")))
		assert.ErrorIs(t, err, archiveutil.ErrBadMagic)
	})
}

func TestInspect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10})))
	cancel()

	deb := debtest.Build(t, debtest.DebianBinary(), debtest.ControlTar(t, ".gz", map[string]string{"./control": testControl}), debtest.DataTar())
	_, err := Inspect(ctx, bytes.NewReader(deb))
	assert.ErrorIs(t, err, context.Canceled)
}
