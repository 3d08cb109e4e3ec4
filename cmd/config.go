package cmd

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/djcass44/all-your-debs/internal/server"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/djcass44/all-your-debs/pkg/signing"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/djcass44/all-your-debs/pkg/store"
	"github.com/djcass44/all-your-debs/pkg/syncer"
	"github.com/go-logr/logr"
	"golang.org/x/exp/maps"
)

const flagConfig = "config"

// repository holds everything built from a config file.
type repository struct {
	config  *v1.Repository
	store   store.Store
	engine  *syncer.Engine
	builder *index.Builder
	signer  *signing.Signer
}

func newRepository(ctx context.Context, cfg *v1.Repository) (*repository, error) {
	log := logr.FromContextOrDiscard(ctx)

	var s store.Store
	var err error
	switch cfg.Spec.Store.Type {
	case v1.StoreLevelDB:
		s, err = store.NewLevelDB(ctx, airutil.ExpandEnv(cfg.Spec.Store.Path))
		if err != nil {
			return nil, err
		}
	default:
		s = store.NewMemory()
	}

	opts := sources.Options{
		Retries:  cfg.Spec.Sync.Retries,
		CacheDir: airutil.ExpandEnv(cfg.Spec.CacheDir),
	}
	var bindings []syncer.Binding
	dists := maps.Keys(cfg.Spec.Distributions)
	slices.Sort(dists)
	for _, dist := range dists {
		for _, spec := range cfg.Spec.Distributions[dist] {
			src, err := sources.New(ctx, spec, opts)
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("creating source %s: %w", spec.Name, err)
			}
			bindings = append(bindings, syncer.Binding{
				Distribution: dist,
				Component:    spec.Component,
				Source:       src,
			})
		}
	}
	engine, err := syncer.NewEngine(s, bindings, syncer.Options{
		Concurrency: cfg.Spec.Sync.Concurrency,
		FetchRate:   cfg.Spec.Sync.FetchRate,
		OnError: func(err error) {
			log.Error(err, "failed to synchronise package")
		},
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var signer *signing.Signer
	if sc := cfg.Spec.Signing; sc != nil {
		signer, err = signing.LoadSigner(airutil.ExpandEnv(sc.PrivateKeyPath), airutil.ExpandEnv(sc.Passphrase))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		log.Info("loaded signing key", "fingerprint", signer.Fingerprint())
	}
	log.V(1).Info("prepared repository", "distributions", dists, "sources", len(bindings), "store", cfg.Spec.Store.Type)

	return &repository{
		config:  cfg,
		store:   s,
		engine:  engine,
		builder: index.NewBuilder(index.Options{}),
		signer:  signer,
	}, nil
}

func (r *repository) Close() error {
	return r.store.Close()
}

func (r *repository) releaseMeta() index.ReleaseMeta {
	rs := r.config.Spec.Release
	return index.ReleaseMeta{
		Origin:      rs.Origin,
		Label:       rs.Label,
		Suite:       rs.Suite,
		Codename:    rs.Codename,
		Version:     rs.Version,
		Description: rs.Description,
	}
}

func (r *repository) server(ctx context.Context) *server.Server {
	return server.New(ctx, r.store, r.engine, r.builder, server.Options{
		Release: r.releaseMeta(),
		Date:    r.config.Spec.Release.Date,
		Signer:  r.signer,
	})
}

// syncInterval returns how often to synchronise. Zero
// means only once at startup.
func (r *repository) syncInterval(override time.Duration) (time.Duration, error) {
	if override > 0 || r.config.Spec.Sync.Interval == "" {
		return override, nil
	}
	return time.ParseDuration(r.config.Spec.Sync.Interval)
}
