package sources

import (
	"context"
	"io"
	"net/http"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/exp/maps"
)

// HTTP serves a fixed list of package URLs.
type HTTP struct {
	base
	urls    []string
	headers map[string]string
	auth    func(r *http.Request)
	client  *retryablehttp.Client
}

func NewHTTP(ctx context.Context, id string, spec v1.HTTPSource, opts Options) *HTTP {
	return &HTTP{
		base:    base{id: id, kind: KindHTTP},
		urls:    airutil.ExpandEnvAll(spec.URLs),
		headers: airutil.ExpandEnvMap(spec.Headers),
		auth:    basicAuth(spec.Auth),
		client:  newHTTPClient(ctx, opts),
	}
}

func (s *HTTP) List(ctx context.Context) ([]Candidate, error) {
	logr.FromContextOrDiscard(ctx).V(2).Info("listing urls", "source", s.id, "count", len(s.urls))
	out := make([]Candidate, 0, len(s.urls))
	for _, u := range s.urls {
		out = append(out, Candidate{
			ID:      u,
			Restore: RestoreDescriptor{Kind: KindHTTP, URL: u},
		})
	}
	return out, nil
}

func (s *HTTP) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	headers := maps.Clone(rd.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	maps.Copy(headers, s.headers)
	return get(ctx, s.client, rd.URL, headers, s.auth)
}
