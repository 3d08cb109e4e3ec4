package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/djcass44/all-your-debs/pkg/debian"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// Mirror takes packages from an upstream APT repository
// by reading its Packages indices.
type Mirror struct {
	base
	repository   string
	distribution string
	component    string
	archs        []string
	selectors    []*debian.Selector
	auth         func(r *http.Request)
	client       *retryablehttp.Client
}

func NewMirror(ctx context.Context, id string, spec v1.MirrorSource, opts Options) (*Mirror, error) {
	selectors := make([]*debian.Selector, 0, len(spec.Packages))
	for _, p := range spec.Packages {
		s, err := debian.ParseSelector(p)
		if err != nil {
			return nil, fmt.Errorf("parsing package selector %q: %w", p, err)
		}
		selectors = append(selectors, s)
	}
	component := spec.Component
	if component == "" {
		component = "main"
	}
	return &Mirror{
		base:         base{id: id, kind: KindMirror},
		repository:   strings.TrimSuffix(airutil.ExpandEnv(spec.URL), "/"),
		distribution: spec.Distribution,
		component:    component,
		archs:        spec.Architectures,
		selectors:    selectors,
		auth:         basicAuth(spec.Auth),
		client:       newHTTPClient(ctx, opts),
	}, nil
}

func (s *Mirror) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "repo", s.repository)

	hc := s.client.StandardClient()
	if s.auth != nil {
		hc.Transport = &authTransport{next: hc.Transport, auth: s.auth}
	}

	seen := map[string]bool{}
	var out []Candidate
	for _, arch := range s.archs {
		idx, err := debian.NewIndex(ctx, hc, s.repository, s.distribution, s.component, arch)
		if err != nil {
			return nil, fmt.Errorf("reading index for %s: %w", arch, err)
		}
		pkgs := idx.Select(s.selectors...)
		log.V(1).Info("selected packages from index", "arch", arch, "selected", len(pkgs), "total", idx.Count())
		for _, p := range pkgs {
			// arch-independent packages show up in
			// every index
			if p.Filename == "" || seen[p.Filename] {
				continue
			}
			seen[p.Filename] = true
			out = append(out, Candidate{
				ID:       p.Filename,
				Revision: p.SHA256,
				Restore:  RestoreDescriptor{Kind: KindMirror, URL: s.repository + "/" + strings.TrimPrefix(p.Filename, "/")},
			})
		}
	}
	return out, nil
}

func (s *Mirror) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	return get(ctx, s.client, rd.URL, nil, s.auth)
}

type authTransport struct {
	next http.RoundTripper
	auth func(r *http.Request)
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	t.auth(r)
	return t.next.RoundTrip(r)
}
