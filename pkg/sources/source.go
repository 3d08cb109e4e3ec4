package sources

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
)

// New creates the Source for a configured backend.
// Secrets and URLs may reference environment variables.
func New(ctx context.Context, spec v1.Source, opts Options) (Source, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch {
	case spec.HTTP != nil:
		return NewHTTP(ctx, spec.Name, *spec.HTTP, opts), nil
	case spec.Getter != nil:
		return NewGetter(ctx, spec.Name, *spec.Getter, opts)
	case spec.Mirror != nil:
		return NewMirror(ctx, spec.Name, *spec.Mirror, opts)
	case spec.GitHubRelease != nil:
		return NewGitHubRelease(ctx, spec.Name, *spec.GitHubRelease, opts), nil
	case spec.GitHubBranch != nil:
		return NewGitHubBranch(ctx, spec.Name, *spec.GitHubBranch, opts), nil
	case spec.OCI != nil:
		return NewOCI(ctx, spec.Name, *spec.OCI, opts)
	case spec.S3 != nil:
		return NewS3(ctx, spec.Name, *spec.S3, opts)
	case spec.Azure != nil:
		return NewAzure(ctx, spec.Name, *spec.Azure, opts)
	case spec.Swift != nil:
		return NewSwift(ctx, spec.Name, *spec.Swift, opts)
	}
	return nil, fmt.Errorf("source %q has no backend", spec.Name)
}

type base struct {
	id   string
	kind Kind
}

func (b base) ID() string {
	return b.id
}

func (b base) Kind() Kind {
	return b.kind
}

func basicAuth(auth *v1.BasicAuth) func(r *http.Request) {
	if auth == nil {
		return nil
	}
	username := airutil.ExpandEnv(auth.Username)
	password := airutil.ExpandEnv(auth.Password)
	return func(r *http.Request) {
		r.SetBasicAuth(username, password)
	}
}

func bearerAuth(token string) func(r *http.Request) {
	token = airutil.ExpandEnv(token)
	if token == "" {
		return nil
	}
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// CacheDir returns the directory downloads are cached
// in, falling back to a directory under the user's cache
// when dir is empty.
func CacheDir(dir string) string {
	if dir == "" {
		dir, _ = os.UserCacheDir()
		dir = filepath.Join(dir, "ayd")
	}
	return filepath.Clean(dir)
}
