package debian

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/djcass44/all-your-debs/pkg/requestutil"
	"github.com/go-logr/logr"
	"pault.ag/go/debian/control"
)

const (
	PackageFileGzip = "Packages.gz"
	PackageFileXZ   = "Packages.xz"
)

// NewIndex downloads the Packages index of an upstream
// repository, preferring the gzip encoding and falling
// back to xz.
func NewIndex(ctx context.Context, client *http.Client, repository, release, component, arch string) (*Index, error) {
	// try to download the gzip repository
	index, err := downloadIndex(ctx, client, repository, release, component, arch, PackageFileGzip)
	if err == nil {
		return index, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// try to download the xz repository
	return downloadIndex(ctx, client, repository, release, component, arch, PackageFileXZ)
}

func downloadIndex(ctx context.Context, client *http.Client, repository, release, component, arch, filename string) (*Index, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("repo", repository, "release", release, "component", component, "arch", arch, "filename", filename)
	log.V(1).Info("downloading index")

	target := fmt.Sprintf("%s/dists/%s/%s/binary-%s/%s", strings.TrimSuffix(repository, "/"), release, component, arch, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// return a special error on 404, so we can check for
		// other file types
		if resp.StatusCode == http.StatusNotFound {
			log.V(1).Info("failed to locate package index")
			return nil, ErrNotFound
		}
		log.V(1).Info("failed to download file", "url", target)
		return nil, fmt.Errorf("http response failed with code: %d", resp.StatusCode)
	}
	log.V(1).Info("successfully downloaded index", "code", resp.StatusCode)
	gr, err := requestutil.Decompress(resp.Body)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return newIndex(ctx, repository, gr)
}

func newIndex(ctx context.Context, source string, r io.Reader) (*Index, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", source)
	dec, err := control.NewDecoder(r, nil)
	if err != nil {
		return nil, err
	}
	var out []Package
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	log.V(1).Info("successfully decoded index", "count", len(out))
	return &Index{
		packages: out,
		source:   source,
	}, nil
}

func (idx *Index) Count() int {
	return len(idx.packages)
}

func (idx *Index) Source() string {
	return idx.source
}

// Select returns the packages accepted by any of the
// given selectors. No selectors selects everything.
func (idx *Index) Select(selectors ...*Selector) []Package {
	if len(selectors) == 0 {
		out := make([]Package, len(idx.packages))
		copy(out, idx.packages)
		return out
	}
	var out []Package
	for _, p := range idx.packages {
		for _, s := range selectors {
			if s.Matches(p.Package, p.Version) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
