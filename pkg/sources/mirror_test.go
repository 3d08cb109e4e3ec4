package sources

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mirrorAmd64 = `Package: curl
Version: 7.88.1-10
Architecture: amd64
Filename: pool/main/c/curl/curl_7.88.1-10_amd64.deb
Size: 3

Package: curl
Version: 7.74.0-1
Architecture: amd64
Filename: pool/main/c/curl/curl_7.74.0-1_amd64.deb
Size: 3

Package: ca-certificates
Version: 20230311
Architecture: all
Filename: pool/main/c/ca-certificates/ca-certificates_20230311_all.deb
Size: 3
`
	mirrorArm64 = `Package: ca-certificates
Version: 20230311
Architecture: all
Filename: pool/main/c/ca-certificates/ca-certificates_20230311_all.deb
Size: 3
`
)

func gzipString(t *testing.T, s string) []byte {
	buf := new(bytes.Buffer)
	gw := gzip.NewWriter(buf)
	_, err := gw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func newMirrorServer(t *testing.T) *httptest.Server {
	amd64 := gzipString(t, mirrorAmd64)
	arm64 := gzipString(t, mirrorArm64)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "user" || p != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/debian/dists/bookworm/main/binary-amd64/Packages.gz":
			_, _ = w.Write(amd64)
		case "/debian/dists/bookworm/main/binary-arm64/Packages.gz":
			_, _ = w.Write(arm64)
		case "/debian/pool/main/c/curl/curl_7.88.1-10_amd64.deb":
			_, _ = w.Write([]byte("new"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestMirror(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	ts := newMirrorServer(t)

	spec := v1.MirrorSource{
		URL:           ts.URL + "/debian/",
		Distribution:  "bookworm",
		Architectures: []string{"amd64", "arm64"},
		Auth:          &v1.BasicAuth{Username: "user", Password: "hunter2"},
	}

	t.Run("everything", func(t *testing.T) {
		src, err := NewMirror(ctx, "test", spec, Options{})
		require.NoError(t, err)

		candidates, err := src.List(ctx)
		require.NoError(t, err)

		ids := make([]string, len(candidates))
		for i := range candidates {
			ids[i] = candidates[i].ID
		}
		// the arch-independent package is only listed once
		assert.ElementsMatch(t, []string{
			"pool/main/c/curl/curl_7.88.1-10_amd64.deb",
			"pool/main/c/curl/curl_7.74.0-1_amd64.deb",
			"pool/main/c/ca-certificates/ca-certificates_20230311_all.deb",
		}, ids)
		idx := slices.IndexFunc(candidates, func(c Candidate) bool {
			return c.ID == "pool/main/c/curl/curl_7.88.1-10_amd64.deb"
		})
		require.NotEqual(t, -1, idx)
		assert.EqualValues(t, ts.URL+"/debian/pool/main/c/curl/curl_7.88.1-10_amd64.deb", candidates[idx].Restore.URL)

		rc, err := src.Open(ctx, candidates[idx].Restore)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		assert.NoError(t, err)
		assert.NoError(t, rc.Close())
		assert.EqualValues(t, "new", string(data))
	})
	t.Run("selected", func(t *testing.T) {
		selected := spec
		selected.Packages = []string{"curl (>= 7.80)"}
		src, err := NewMirror(ctx, "test", selected, Options{})
		require.NoError(t, err)

		candidates, err := src.List(ctx)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.EqualValues(t, "pool/main/c/curl/curl_7.88.1-10_amd64.deb", candidates[0].ID)
	})
	t.Run("missing architecture", func(t *testing.T) {
		missing := spec
		missing.Architectures = []string{"riscv64"}
		src, err := NewMirror(ctx, "test", missing, Options{})
		require.NoError(t, err)

		_, err = src.List(ctx)
		assert.Error(t, err)
	})
	t.Run("unauthorised", func(t *testing.T) {
		noAuth := spec
		noAuth.Auth = nil
		src, err := NewMirror(ctx, "test", noAuth, Options{})
		require.NoError(t, err)

		_, err = src.List(ctx)
		assert.Error(t, err)
	})
}
