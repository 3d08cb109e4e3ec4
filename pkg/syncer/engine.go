package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/debian"
	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/djcass44/all-your-debs/pkg/store"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultConcurrency = 4

var ErrUnknownSource = errors.New("unknown source")

func NewEngine(s store.Store, bindings []Binding, opts Options) (*Engine, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	e := &Engine{
		store:    s,
		bindings: make(map[string]*binding, len(bindings)),
		opts:     opts,
		running:  make(chan struct{}, 1),
	}
	for _, b := range bindings {
		id := b.Source.ID()
		if _, ok := e.bindings[id]; ok {
			return nil, fmt.Errorf("duplicate source %q", id)
		}
		limit := rate.Inf
		if opts.FetchRate > 0 {
			limit = rate.Limit(opts.FetchRate)
		}
		e.bindings[id] = &binding{
			Binding: b,
			limiter: rate.NewLimiter(limit, 1),
		}
		e.order = append(e.order, id)
	}
	return e, nil
}

// Source returns the source with the given ID.
func (e *Engine) Source(id string) (sources.Source, bool) {
	b, ok := e.bindings[id]
	if !ok {
		return nil, false
	}
	return b.Source, true
}

// Status returns a snapshot of a source.
func (e *Engine) Status(id string) (Status, bool) {
	b, ok := e.bindings[id]
	if !ok {
		return Status{}, false
	}
	return b.status(), true
}

// Open streams the bytes of a registered package
// from the source that owns it.
func (e *Engine) Open(ctx context.Context, rec *store.Record) (io.ReadCloser, error) {
	src, ok := e.Source(rec.SourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, rec.SourceID)
	}
	return src.Open(ctx, rec.Restore)
}

// Prune deletes the records of every source that is
// no longer configured.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	log := logr.FromContextOrDiscard(ctx)

	ids, err := e.store.Sources(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sources: %w", err)
	}
	var total int
	for _, id := range ids {
		if _, ok := e.bindings[id]; ok {
			continue
		}
		count, err := e.store.DeleteSource(ctx, id)
		if err != nil {
			return total, fmt.Errorf("deleting records of %s: %w", id, err)
		}
		log.Info("removed records of unconfigured source", "source", id, "count", count)
		total += count
	}
	return total, nil
}

// Run synchronises every source once. Failures of
// individual sources and candidates are reported rather
// than returned; the error is only set when the run
// could not happen at all.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	select {
	case e.running <- struct{}{}:
		defer func() { <-e.running }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	log := logr.FromContextOrDiscard(ctx).WithValues("run", report.RunID)
	log.Info("starting sync", "sources", len(e.order))
	ctx = logr.NewContext(ctx, log)

	var mu sync.Mutex
	report.Sources = make([]SourceReport, len(e.order))
	onError := func(err error) {
		mu.Lock()
		report.Errors = append(report.Errors, err)
		mu.Unlock()
		if e.opts.OnError != nil {
			e.opts.OnError(err)
		}
	}

	work := new(errgroup.Group)
	work.SetLimit(e.opts.Concurrency)

	var wg sync.WaitGroup
	for i, id := range e.order {
		wg.Add(1)
		go func(i int, b *binding) {
			defer wg.Done()
			report.Sources[i] = e.runSource(ctx, b, work, onError)
		}(i, e.bindings[id])
	}
	wg.Wait()
	_ = work.Wait()

	report.Finished = time.Now()
	syncDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	log.Info("finished sync", "duration", report.Finished.Sub(report.Started), "errors", report.Failed())
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) runSource(ctx context.Context, b *binding, work *errgroup.Group, onError func(err error)) SourceReport {
	id := b.Source.ID()
	log := logr.FromContextOrDiscard(ctx).WithValues("source", id, "kind", b.Source.Kind(), "dist", b.Distribution, "component", b.Component)
	ctx = logr.NewContext(ctx, log)

	now := time.Now()
	b.lastRun.Store(&now)
	rep := SourceReport{SourceID: id}
	defer func() {
		out := rep
		b.lastReport.Store(&out)
	}()

	b.listing.Store(true)
	candidates, err := b.Source.List(ctx)
	b.listing.Store(false)
	if err != nil {
		err = &SourceError{SourceID: id, Err: err}
		log.Error(err, "failed to list source")
		rep.Err = err
		candidatesTotal.WithLabelValues(id, string(StageList)).Inc()
		onError(err)
		return rep
	}
	rep.Listed = len(candidates)
	log.V(1).Info("listed source", "candidates", len(candidates))

	known, err := e.store.Candidates(ctx, id)
	if err != nil {
		err = &SourceError{SourceID: id, Err: fmt.Errorf("reading registered candidates: %w", err)}
		rep.Err = err
		onError(err)
		return rep
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range dedupe(candidates) {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		work.Go(func() error {
			defer wg.Done()
			created, refreshed, err := e.process(ctx, b, c, known)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				var cerr *CandidateError
				if errors.As(err, &cerr) {
					candidatesTotal.WithLabelValues(id, string(cerr.Stage)).Inc()
				}
				log.Error(err, "failed to synchronise candidate", "candidate", c.ID)
				onError(err)
			case created:
				rep.Registered++
				candidatesTotal.WithLabelValues(id, "registered").Inc()
			case refreshed:
				rep.Refreshed++
				candidatesTotal.WithLabelValues(id, "refreshed").Inc()
			}
			return nil
		})
	}
	wg.Wait()
	log.Info("synchronised source", "listed", rep.Listed, "registered", rep.Registered, "refreshed", rep.Refreshed, "failed", rep.Failed)
	return rep
}

// process moves a single candidate through the fetch,
// extract and register stages.
func (e *Engine) process(ctx context.Context, b *binding, c sources.Candidate, known map[string]store.Registration) (created, refreshed bool, err error) {
	id := b.Source.ID()
	fail := func(stage Stage, err error) (bool, bool, error) {
		return false, false, &CandidateError{SourceID: id, Candidate: c.ID, Stage: stage, Err: err}
	}

	// a known candidate whose revision has not changed
	// only needs its descriptor refreshed. Without a
	// revision we cannot tell, so it is fetched again.
	reg, seen := known[c.ID]
	if seen && c.Revision != "" && c.Revision == reg.Revision {
		err := e.store.Refresh(ctx, reg.Key, id, c.Restore)
		if err == nil {
			return false, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fail(StageRegister, err)
		}
		seen = false
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return fail(StageFetch, err)
	}

	b.fetching.Add(1)
	inflight.WithLabelValues(string(StageFetch)).Inc()
	rc, err := b.Source.Open(ctx, c.Restore)
	b.fetching.Add(-1)
	inflight.WithLabelValues(string(StageFetch)).Dec()
	if err != nil {
		return fail(StageFetch, err)
	}

	b.extracting.Add(1)
	inflight.WithLabelValues(string(StageExtract)).Inc()
	inspection, err := debian.Inspect(ctx, rc)
	_ = rc.Close()
	b.extracting.Add(-1)
	inflight.WithLabelValues(string(StageExtract)).Dec()
	if err != nil {
		return fail(StageExtract, err)
	}

	b.registering.Add(1)
	inflight.WithLabelValues(string(StageRegister)).Inc()
	defer func() {
		b.registering.Add(-1)
		inflight.WithLabelValues(string(StageRegister)).Dec()
	}()
	rec := &store.Record{
		Distribution: b.Distribution,
		Component:    b.Component,
		Control:      index.Augment(inspection.Control, b.Distribution, b.Component, inspection.Checksums),
		SourceID:     id,
		CandidateID:  c.ID,
		Revision:     c.Revision,
		Restore:      c.Restore,
	}
	replaced := false
	if seen {
		replaced, err = e.replace(ctx, id, reg.Key, rec)
		if err != nil {
			return fail(StageRegister, err)
		}
	}
	created, err = e.store.Register(ctx, rec)
	if err != nil {
		return fail(StageRegister, err)
	}
	if replaced {
		return true, false, nil
	}
	return created, !created, nil
}

// replace removes the record a candidate was registered
// as when the candidate now holds a different package
// or different bytes.
func (e *Engine) replace(ctx context.Context, sourceID string, key store.Key, rec *store.Record) (bool, error) {
	existing, err := e.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.SourceID != sourceID {
		return false, nil
	}
	sha := rec.Control.Value(control.FieldSHA256)
	if existing.Key() == rec.Key() && existing.Control.Value(control.FieldSHA256) == sha {
		return false, nil
	}
	if err := e.store.Delete(ctx, key, sourceID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("removing replaced record %s: %w", key, err)
	}
	logr.FromContextOrDiscard(ctx).Info("candidate content changed, replacing record", "candidate", rec.CandidateID, "old", key.String(), "new", rec.Key().String(), "sha256", sha)
	return true, nil
}

// Watch runs the engine immediately and then on every
// tick of interval until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) error {
	log := logr.FromContextOrDiscard(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(err, "sync run failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func dedupe(candidates []sources.Candidate) []sources.Candidate {
	seen := make(map[string]bool, len(candidates))
	return slices.DeleteFunc(slices.Clone(candidates), func(c sources.Candidate) bool {
		if seen[c.ID] {
			return true
		}
		seen[c.ID] = true
		return false
	})
}
