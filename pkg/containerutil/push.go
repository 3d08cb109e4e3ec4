package containerutil

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Push publishes the files below dir as a single layer
// image and returns the digest of what was written.
func Push(ctx context.Context, dir, dst string, o Options) (v1.Hash, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("ref", dst, "dir", dir)
	log.Info("pushing image")

	ref, err := name.ParseReference(dst, o.nameOptions()...)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("parsing name %s: %w", dst, err)
	}
	layer, err := NewLayer(dir)
	if err != nil {
		return v1.Hash{}, err
	}
	img, err := mutate.Append(empty.Image, mutate.Addendum{
		Layer: layer,
		History: v1.History{
			Author:    "all-your-debs",
			CreatedBy: "ayd index",
		},
	})
	if err != nil {
		return v1.Hash{}, fmt.Errorf("appending layer: %w", err)
	}
	opts, err := o.remoteOptions(ctx)
	if err != nil {
		return v1.Hash{}, err
	}
	if err := remote.Write(ref, img, opts...); err != nil {
		log.Error(err, "failed to push image")
		return v1.Hash{}, fmt.Errorf("pushing %s: %w", dst, err)
	}
	d, err := img.Digest()
	if err != nil {
		return v1.Hash{}, err
	}
	log.Info("pushed image", "digest", d.String())
	return d, nil
}
