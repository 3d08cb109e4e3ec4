package containerutil

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Options control how a registry is contacted.
type Options struct {
	// Platform selects an image from an index,
	// e.g. "linux/amd64".
	Platform string
	Username string
	Password string
	// Insecure allows plain HTTP registries.
	Insecure bool
}

func (o Options) nameOptions() []name.Option {
	if o.Insecure {
		return []name.Option{name.Insecure}
	}
	return nil
}

func (o Options) remoteOptions(ctx context.Context) ([]remote.Option, error) {
	opts := []remote.Option{remote.WithContext(ctx)}
	if o.Username != "" || o.Password != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: o.Username, Password: o.Password}))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	if o.Platform != "" {
		platform, err := v1.ParsePlatform(o.Platform)
		if err != nil {
			return nil, fmt.Errorf("parsing platform %s: %w", o.Platform, err)
		}
		opts = append(opts, remote.WithPlatform(*platform))
	}
	return opts, nil
}

// Get fetches the manifest of an image without
// pulling its layers.
func Get(ctx context.Context, ref string, o Options) (v1.Image, name.Reference, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("ref", ref)
	log.V(1).Info("getting image")

	remoteRef, err := name.ParseReference(ref, o.nameOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing name %s: %w", ref, err)
	}
	opts, err := o.remoteOptions(ctx)
	if err != nil {
		return nil, nil, err
	}
	img, err := remote.Image(remoteRef, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("getting %s: %w", ref, err)
	}
	return img, remoteRef, nil
}

// GetLayer fetches a single layer of a repository
// by its digest.
func GetLayer(ctx context.Context, repo, digest string, o Options) (v1.Layer, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("repo", repo, "digest", digest)
	log.V(1).Info("getting layer")

	ref, err := name.NewDigest(repo+"@"+digest, o.nameOptions()...)
	if err != nil {
		return nil, fmt.Errorf("parsing digest %s@%s: %w", repo, digest, err)
	}
	opts, err := o.remoteOptions(ctx)
	if err != nil {
		return nil, err
	}
	layer, err := remote.Layer(ref, opts...)
	if err != nil {
		return nil, fmt.Errorf("getting layer %s: %w", ref, err)
	}
	return layer, nil
}
