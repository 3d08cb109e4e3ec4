package sources

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/containerutil"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCI(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	ts := httptest.NewServer(registry.New())
	defer ts.Close()
	image := strings.TrimPrefix(ts.URL, "http://") + "/test/debs:latest"

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "debs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debs", "foo_1.0_amd64.deb"), []byte("foo"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debs", "README.md"), []byte("readme"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bar_2.0_all.deb"), []byte("bar"), 0644))

	layer, err := containerutil.NewLayer(dir)
	require.NoError(t, err)
	img, err := mutate.AppendLayers(empty.Image, layer)
	require.NoError(t, err)
	ref, err := name.ParseReference(image, name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))

	src, err := NewOCI(ctx, "test", v1.OCISource{Image: image, Insecure: true}, Options{})
	require.NoError(t, err)

	candidates, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	digest, err := layer.Digest()
	require.NoError(t, err)

	contents := map[string]string{}
	for _, c := range candidates {
		assert.EqualValues(t, digest.String(), c.Restore.Digest)
		assert.EqualValues(t, ref.Context().String(), c.Restore.Image)

		rc, err := src.Open(ctx, c.Restore)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		assert.NoError(t, err)
		assert.NoError(t, rc.Close())
		contents[c.Restore.Path] = string(data)
	}
	assert.EqualValues(t, map[string]string{
		"debs/foo_1.0_amd64.deb": "foo",
		"bar_2.0_all.deb":        "bar",
	}, contents)

	t.Run("missing path", func(t *testing.T) {
		rd := candidates[0].Restore
		rd.Path = "debs/missing.deb"
		_, err := src.Open(ctx, rd)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("missing image", func(t *testing.T) {
		src, err := NewOCI(ctx, "test", v1.OCISource{Image: strings.TrimPrefix(ts.URL, "http://") + "/test/missing:latest", Insecure: true}, Options{})
		require.NoError(t, err)
		_, err = src.List(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCleanPath(t *testing.T) {
	assert.EqualValues(t, "debs/foo.deb", cleanPath("./debs/foo.deb"))
	assert.EqualValues(t, "debs/foo.deb", cleanPath("/debs/foo.deb"))
	assert.EqualValues(t, "foo.deb", cleanPath("../foo.deb"))
}
