package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/sources"
)

var (
	ErrConflict = errors.New("package is already registered")
	ErrNotFound = errors.New("package is not registered")
)

// Key is the identity of a package record.
type Key struct {
	Distribution string
	Component    string
	Name         string
	Version      string
	Architecture string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.Distribution, k.Component, k.Name, k.Version, k.Architecture)
}

// Record is a package registered in a distribution.
type Record struct {
	Distribution string
	Component    string
	// Control holds the package's control fields along
	// with its location, size and digests.
	Control  *control.Fields
	SourceID string
	// CandidateID is the identifier the source
	// listed the package under.
	CandidateID string
	// Revision is the content fingerprint the source
	// listed the candidate with, if any.
	Revision string
	Restore  sources.RestoreDescriptor
}

// Registration is what a store remembers about a
// candidate it has seen.
type Registration struct {
	Key      Key
	Revision string
}

func (r *Record) Key() Key {
	return Key{
		Distribution: r.Distribution,
		Component:    r.Component,
		Name:         r.Control.Package(),
		Version:      r.Control.Version(),
		Architecture: r.Control.Architecture(),
	}
}

func (r *Record) clone() *Record {
	out := *r
	out.Control = r.Control.Clone()
	return &out
}

// Store persists package records. Implementations must be
// safe for concurrent use.
type Store interface {
	// Register adds a record. A record with the same key is
	// only accepted again when it comes from the same source
	// with the same content, in which case its restore
	// descriptor is refreshed and created is false. Anything
	// else fails with ErrConflict.
	Register(ctx context.Context, rec *Record) (created bool, err error)
	// Refresh replaces the restore descriptor of a record
	// owned by sourceID.
	Refresh(ctx context.Context, key Key, sourceID string, rd sources.RestoreDescriptor) error
	Get(ctx context.Context, key Key) (*Record, error)
	// Delete removes a record owned by sourceID.
	Delete(ctx context.Context, key Key, sourceID string) error

	List(ctx context.Context, distribution, component, arch string) ([]*control.Fields, error)
	Components(ctx context.Context, distribution string) ([]string, error)
	Architectures(ctx context.Context, distribution string) ([]string, error)
	Distributions(ctx context.Context) ([]string, error)

	// Sources returns the IDs of every source that owns records.
	Sources(ctx context.Context) ([]string, error)
	// Candidates maps the candidate IDs registered by a
	// source to the keys and revisions of their records.
	Candidates(ctx context.Context, sourceID string) (map[string]Registration, error)
	// DeleteSource removes every record owned by a source.
	DeleteSource(ctx context.Context, sourceID string) (int, error)

	Close() error
}

// accept decides whether rec may replace existing.
func accept(existing, rec *Record) error {
	if existing.SourceID != rec.SourceID {
		return fmt.Errorf("%w: %s is owned by source %s", ErrConflict, rec.Key(), existing.SourceID)
	}
	if existing.Control.Value(control.FieldSHA256) != rec.Control.Value(control.FieldSHA256) {
		return fmt.Errorf("%w: %s has different content", ErrConflict, rec.Key())
	}
	return nil
}
