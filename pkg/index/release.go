package index

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
	"github.com/go-logr/logr"
)

const (
	dateFormat = "Mon, 02 Jan 2006 15:04:05 UTC"
	archAll    = "all"
)

// Release generates the Release file of a distribution.
// When includeHashes is set every Packages index is built
// in all encodings and listed under the MD5Sum, SHA1 and
// SHA256 sections, ordered by component then architecture.
func (b *Builder) Release(ctx context.Context, lister Lister, distribution string, meta ReleaseMeta, includeHashes bool) (string, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("dist", distribution)

	components, archs, err := b.Layout(ctx, lister, distribution)
	if err != nil {
		return "", err
	}

	fields := control.New()
	for _, kv := range []control.Field{
		{Key: "Origin", Value: meta.Origin},
		{Key: "Label", Value: meta.Label},
		{Key: "Suite", Value: meta.Suite},
		{Key: "Codename", Value: meta.Codename},
		{Key: "Version", Value: meta.Version},
	} {
		if kv.Value != "" {
			fields.Set(kv.Key, kv.Value)
		}
	}
	if !meta.Date.IsZero() {
		fields.Set("Date", meta.Date.UTC().Format(dateFormat))
	}
	if meta.Description != "" {
		fields.Set("Description", meta.Description)
	}
	fields.Set("Architectures", strings.Join(archs, " "))
	fields.Set("Components", strings.Join(components, " "))

	if includeHashes {
		var md5s, sha1s, sha256s strings.Builder
		for _, component := range components {
			for _, arch := range archs {
				records, err := b.records(ctx, lister, distribution, component, arch)
				if err != nil {
					return "", err
				}
				sums, err := b.BuildPackages(ctx, distribution, component, records, map[Encoding]io.Writer{Raw: nil, Gzip: nil, XZ: nil})
				if err != nil {
					return "", fmt.Errorf("building %s/binary-%s: %w", component, arch, err)
				}
				for _, enc := range Encodings {
					name := fmt.Sprintf("%s/binary-%s/%s", component, arch, enc.Filename())
					s := sums[enc]
					fmt.Fprintf(&md5s, "\n  %s %d %s", s.MD5, s.Size, name)
					fmt.Fprintf(&sha1s, "\n  %s %d %s", s.SHA1, s.Size, name)
					fmt.Fprintf(&sha256s, "\n  %s %d %s", s.SHA256, s.Size, name)
				}
			}
		}
		fields.Set("MD5Sum", md5s.String())
		fields.Set("SHA1", sha1s.String())
		fields.Set("SHA256", sha256s.String())
	}
	log.V(2).Info("generated release", "components", components, "architectures", archs)
	return fields.String(), nil
}

// Packages writes a single encoding of the Packages index
// for a component and architecture of a distribution.
func (b *Builder) Packages(ctx context.Context, lister Lister, distribution, component, arch string, enc Encoding, w io.Writer) (digest.Checksums, error) {
	components, archs, err := b.Layout(ctx, lister, distribution)
	if err != nil {
		return digest.Checksums{}, err
	}
	if !slices.Contains(components, component) || !slices.Contains(archs, arch) {
		return digest.Checksums{}, fmt.Errorf("%w: %s/%s/binary-%s", ErrUnknownIndex, distribution, component, arch)
	}
	records, err := b.records(ctx, lister, distribution, component, arch)
	if err != nil {
		return digest.Checksums{}, err
	}
	sums, err := b.BuildPackages(ctx, distribution, component, records, map[Encoding]io.Writer{enc: w})
	if err != nil {
		return digest.Checksums{}, err
	}
	return sums[enc], nil
}

// Layout returns the sorted components and published
// architectures of a distribution.
func (b *Builder) Layout(ctx context.Context, lister Lister, distribution string) ([]string, []string, error) {
	components, err := lister.Components(ctx, distribution)
	if err != nil {
		return nil, nil, fmt.Errorf("listing components: %w", err)
	}
	archs, err := lister.Architectures(ctx, distribution)
	if err != nil {
		return nil, nil, fmt.Errorf("listing architectures: %w", err)
	}
	if len(components) == 0 || len(archs) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyDistribution, distribution)
	}
	components = slices.Clone(components)
	slices.Sort(components)
	return components, publishedArchitectures(archs), nil
}

// publishedArchitectures drops "all" unless it is the
// only architecture, since arch-independent packages are
// listed in every concrete index.
func publishedArchitectures(archs []string) []string {
	out := make([]string, 0, len(archs))
	for _, a := range archs {
		if a != archAll && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []string{archAll}
	}
	slices.Sort(out)
	return out
}

func (b *Builder) records(ctx context.Context, lister Lister, distribution, component, arch string) ([]*control.Fields, error) {
	records, err := lister.List(ctx, distribution, component, arch)
	if err != nil {
		return nil, fmt.Errorf("listing %s/binary-%s: %w", component, arch, err)
	}
	if arch == archAll {
		return records, nil
	}
	indep, err := lister.List(ctx, distribution, component, archAll)
	if err != nil {
		return nil, fmt.Errorf("listing %s/binary-%s: %w", component, archAll, err)
	}
	return slices.Concat(records, indep), nil
}
