package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/go-logr/logr"
	"github.com/ncw/swift"
)

// Swift serves the .deb objects of an OpenStack
// Swift container.
type Swift struct {
	base
	container string
	prefix    string
	conn      *swift.Connection
	opts      Options
}

func NewSwift(_ context.Context, id string, spec v1.SwiftSource, opts Options) (*Swift, error) {
	conn := &swift.Connection{
		UserName:       airutil.ExpandEnv(spec.Username),
		ApiKey:         airutil.ExpandEnv(spec.APIKey),
		AuthUrl:        airutil.ExpandEnv(spec.AuthURL),
		UserAgent:      "ayd",
		Tenant:         spec.Tenant,
		Domain:         spec.Domain,
		ConnectTimeout: 60 * time.Second,
		Timeout:        60 * time.Second,
	}
	if opts.Transport != nil {
		conn.Transport = opts.Transport
	}
	return &Swift{
		base:      base{id: id, kind: KindSwift},
		container: spec.Container,
		prefix:    spec.Prefix,
		conn:      conn,
		opts:      opts,
	}, nil
}

func (s *Swift) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "container", s.container, "prefix", s.prefix)

	// the client authenticates lazily, so listing
	// doubles as a credentials check
	var objects []swift.Object
	err := retry(ctx, s.opts, func() error {
		var err error
		objects, err = s.conn.ObjectsAll(s.container, &swift.ObjectsOpts{Prefix: s.prefix})
		return swiftError(s.container, err)
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects under %s: %w", s.prefix, err)
	}
	var out []Candidate
	for _, obj := range objects {
		if !isDeb(obj.Name) {
			continue
		}
		out = append(out, Candidate{
			ID:       obj.Name,
			Revision: obj.Hash,
			Restore:  RestoreDescriptor{Kind: KindSwift, Bucket: s.container, Key: obj.Name},
		})
	}
	log.V(1).Info("listed objects", "objects", len(objects), "packages", len(out))
	return out, nil
}

func (s *Swift) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	if rd.Bucket != s.container {
		return nil, fmt.Errorf("%w: container %s is not %s", ErrUnsupportedKind, rd.Bucket, s.container)
	}
	var out io.ReadCloser
	err := retry(ctx, s.opts, func() error {
		f, _, err := s.conn.ObjectOpen(rd.Bucket, rd.Key, false, nil)
		if err != nil {
			return swiftError(rd.Bucket+"/"+rd.Key, err)
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func swiftError(target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, swift.ObjectNotFound) || errors.Is(err, swift.ContainerNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	var se *swift.Error
	if errors.As(err, &se) && se.StatusCode != 0 {
		return fmt.Errorf("%w: %w", &StatusError{URL: target, Code: se.StatusCode}, err)
	}
	return err
}
