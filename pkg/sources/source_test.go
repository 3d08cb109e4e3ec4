package sources

import (
	"context"
	"testing"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	opts := Options{CacheDir: t.TempDir()}

	var cases = []struct {
		in   v1.Source
		kind Kind
	}{
		{v1.Source{HTTP: &v1.HTTPSource{URLs: []string{"https://example.org/foo.deb"}}}, KindHTTP},
		{v1.Source{Getter: &v1.GetterSource{URLs: []string{"https://example.org/foo.deb"}}}, KindGetter},
		{v1.Source{Mirror: &v1.MirrorSource{URL: "https://deb.debian.org/debian", Distribution: "bookworm", Architectures: []string{"amd64"}}}, KindMirror},
		{v1.Source{GitHubRelease: &v1.GitHubReleaseSource{Owner: "foo", Repo: "bar"}}, KindGitHubRelease},
		{v1.Source{GitHubBranch: &v1.GitHubBranchSource{Owner: "foo", Repo: "bar", Branch: "main"}}, KindGitHubBranch},
		{v1.Source{OCI: &v1.OCISource{Image: "ghcr.io/foo/bar:latest"}}, KindOCI},
		{v1.Source{S3: &v1.S3Source{Bucket: "debs", Region: "us-east-1", AccessKeyID: "foo", SecretAccessKey: "bar"}}, KindS3},
		{v1.Source{Azure: &v1.AzureSource{AccountName: "foo", AccountKey: "YmFy", Container: "debs"}}, KindAzure},
		{v1.Source{Swift: &v1.SwiftSource{AuthURL: "https://auth.example.org/v1.0", Container: "debs"}}, KindSwift},
	}
	for _, tt := range cases {
		t.Run(string(tt.kind), func(t *testing.T) {
			tt.in.Name = "test"
			tt.in.Component = "main"
			src, err := New(ctx, tt.in, opts)
			require.NoError(t, err)
			assert.EqualValues(t, tt.kind, src.Kind())
			assert.EqualValues(t, "test", src.ID())
		})
	}

	t.Run("no backend", func(t *testing.T) {
		_, err := New(ctx, v1.Source{Name: "test", Component: "main"}, opts)
		assert.Error(t, err)
	})
	t.Run("bad selector", func(t *testing.T) {
		_, err := New(ctx, v1.Source{Name: "test", Component: "main", Mirror: &v1.MirrorSource{
			URL:           "https://deb.debian.org/debian",
			Distribution:  "bookworm",
			Architectures: []string{"amd64"},
			Packages:      []string{"(>= 1.0)"},
		}}, opts)
		assert.Error(t, err)
	})
}

func TestExpandEnv(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	t.Setenv("AYD_TEST_HOST", "example.org")

	src := NewHTTP(ctx, "test", v1.HTTPSource{URLs: []string{"https://${AYD_TEST_HOST}/foo.deb"}}, Options{})
	candidates, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.EqualValues(t, "https://example.org/foo.deb", candidates[0].Restore.URL)
}
