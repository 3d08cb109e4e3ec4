package syncer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/djcass44/all-your-debs/pkg/store"
	"golang.org/x/time/rate"
)

// State is what a source is currently doing.
type State string

const (
	StateIdle        State = "Idle"
	StateListing     State = "Listing"
	StateFetching    State = "Fetching"
	StateExtracting  State = "Extracting"
	StateRegistering State = "Registering"
)

// Stage names the step a candidate failed in.
type Stage string

const (
	StageList     Stage = "list"
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StageRegister Stage = "register"
)

// Binding attaches a source to a distribution and component.
type Binding struct {
	Distribution string
	Component    string
	Source       sources.Source
}

type Options struct {
	// Concurrency is the number of candidates processed
	// at once across every source.
	Concurrency int
	// FetchRate is the number of candidates per second a
	// single source may start fetching. Zero is unlimited.
	FetchRate float64
	// OnError is called for every candidate or source
	// that fails. It must be safe for concurrent use.
	OnError func(err error)
}

// CandidateError describes a single package that
// could not be synchronised.
type CandidateError struct {
	SourceID  string
	Candidate string
	Stage     Stage
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("source %s: %s %s: %v", e.SourceID, e.Stage, e.Candidate, e.Err)
}

func (e *CandidateError) Unwrap() error {
	return e.Err
}

// SourceError is returned when a source cannot be listed.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// SourceReport summarises one run of a single source.
type SourceReport struct {
	SourceID string
	// Listed is the number of candidates the source returned.
	Listed int
	// Registered is the number of new records.
	Registered int
	// Refreshed is the number of known records whose
	// restore descriptor was updated.
	Refreshed int
	Failed    int
	Err       error
}

// Report summarises a run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Sources  []SourceReport
	Errors   []error
}

// Failed returns the number of sources and candidates
// that failed.
func (r *Report) Failed() int {
	return len(r.Errors)
}

// Status is a snapshot of a source.
type Status struct {
	State State
	// Fetching, Extracting and Registering count
	// candidates in each stage.
	Fetching    int
	Extracting  int
	Registering int
	LastRun     time.Time
	LastReport  *SourceReport
}

type binding struct {
	Binding
	limiter *rate.Limiter

	listing     atomic.Bool
	fetching    atomic.Int32
	extracting  atomic.Int32
	registering atomic.Int32
	lastRun     atomic.Pointer[time.Time]
	lastReport  atomic.Pointer[SourceReport]
}

func (b *binding) status() Status {
	s := Status{
		State:       StateIdle,
		Fetching:    int(b.fetching.Load()),
		Extracting:  int(b.extracting.Load()),
		Registering: int(b.registering.Load()),
		LastReport:  b.lastReport.Load(),
	}
	if t := b.lastRun.Load(); t != nil {
		s.LastRun = *t
	}
	switch {
	case b.listing.Load():
		s.State = StateListing
	case s.Fetching > 0:
		s.State = StateFetching
	case s.Extracting > 0:
		s.State = StateExtracting
	case s.Registering > 0:
		s.State = StateRegistering
	}
	return s
}

// Engine synchronises sources into a store.
type Engine struct {
	store    store.Store
	bindings map[string]*binding
	order    []string
	opts     Options
	running  chan struct{}
}
