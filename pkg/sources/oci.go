package sources

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/djcass44/all-your-debs/pkg/archiveutil"
	"github.com/djcass44/all-your-debs/pkg/containerutil"
	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// OCI serves .deb files found inside the layers of
// a container image.
type OCI struct {
	base
	image string
	opts  containerutil.Options
}

func NewOCI(_ context.Context, id string, spec v1.OCISource, _ Options) (*OCI, error) {
	o := containerutil.Options{
		Platform: spec.Platform,
		Insecure: spec.Insecure,
	}
	if spec.Auth != nil {
		o.Username = airutil.ExpandEnv(spec.Auth.Username)
		o.Password = airutil.ExpandEnv(spec.Auth.Password)
	}
	return &OCI{
		base:  base{id: id, kind: KindOCI},
		image: airutil.ExpandEnv(spec.Image),
		opts:  o,
	}, nil
}

func (s *OCI) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "image", s.image)

	img, ref, err := containerutil.Get(ctx, s.image, s.opts)
	if err != nil {
		return nil, registryError(s.image, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, registryError(s.image, err)
	}
	repo := ref.Context().String()

	var out []Candidate
	for _, layer := range layers {
		digest, err := layer.Digest()
		if err != nil {
			return nil, err
		}
		rc, err := layer.Uncompressed()
		if err != nil {
			return nil, registryError(s.image, err)
		}
		err = archiveutil.WalkTar(ctx, rc, func(hdr *tar.Header, _ io.Reader) (bool, error) {
			if name := cleanPath(hdr.Name); isDeb(name) {
				out = append(out, Candidate{
					ID:       digest.String() + ":" + name,
					Revision: digest.String(),
					Restore: RestoreDescriptor{
						Kind:   KindOCI,
						Image:  repo,
						Digest: digest.String(),
						Path:   name,
					},
				})
			}
			return false, nil
		})
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading layer %s: %w", digest, err)
		}
		log.V(2).Info("walked layer", "digest", digest.String())
	}
	return out, nil
}

func (s *OCI) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	layer, err := containerutil.GetLayer(ctx, rd.Image, rd.Digest, s.opts)
	if err != nil {
		return nil, registryError(rd.Image, err)
	}
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, registryError(rd.Image, err)
	}
	var file io.Reader
	err = archiveutil.WalkTar(ctx, rc, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if cleanPath(hdr.Name) != rd.Path {
			return false, nil
		}
		file = r
		return true, nil
	})
	if err != nil {
		_ = rc.Close()
		return nil, registryError(rd.Image, err)
	}
	if file == nil {
		_ = rc.Close()
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, rd.Path, rd.Digest)
	}
	return &layerFile{Reader: file, closer: rc}, nil
}

func cleanPath(s string) string {
	return strings.TrimPrefix(path.Clean("/"+s), "/")
}

type layerFile struct {
	io.Reader
	closer io.Closer
}

func (f *layerFile) Close() error {
	return f.closer.Close()
}

// registryError converts registry responses into
// a StatusError so that they can be classified.
func registryError(image string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return fmt.Errorf("%w: %w", &StatusError{URL: image, Code: terr.StatusCode}, err)
	}
	return err
}
