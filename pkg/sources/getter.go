package sources

import (
	"context"
	"fmt"
	"io"

	"github.com/djcass44/all-your-debs/pkg/airutil"
	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/downloader"
)

// Getter fetches packages with go-getter. Unlike the
// other sources it cannot stream, so files are kept
// in the cache directory.
type Getter struct {
	base
	urls []string
	dl   *downloader.Downloader
	opts Options
}

func NewGetter(_ context.Context, id string, spec v1.GetterSource, opts Options) (*Getter, error) {
	dl, err := downloader.NewDownloader(CacheDir(opts.CacheDir))
	if err != nil {
		return nil, fmt.Errorf("creating downloader: %w", err)
	}
	return &Getter{
		base: base{id: id, kind: KindGetter},
		urls: airutil.ExpandEnvAll(spec.URLs),
		dl:   dl,
		opts: opts,
	}, nil
}

func (s *Getter) List(context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.urls))
	for _, u := range s.urls {
		out = append(out, Candidate{
			ID:      u,
			Restore: RestoreDescriptor{Kind: KindGetter, URL: u},
		})
	}
	return out, nil
}

func (s *Getter) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	var out io.ReadCloser
	err := retry(ctx, s.opts, func() error {
		f, err := s.dl.Open(ctx, rd.URL)
		if err != nil {
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
