package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/containerutil"
	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/djcass44/all-your-debs/pkg/store"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "synchronise every source and write a static repository (dists/ and pool/) to disk",
	RunE:  writeIndex,
}

const (
	flagOutput = "output"
	flagPush   = "push"
)

func init() {
	indexCmd.Flags().StringP(flagConfig, "c", "", "path to a repository configuration file")
	indexCmd.Flags().StringP(flagOutput, "o", ".", "directory to write dists/ and pool/ into")
	indexCmd.Flags().String(flagPush, "", "image reference to publish the written tree to")

	_ = indexCmd.MarkFlagRequired(flagConfig)
	_ = indexCmd.MarkFlagFilename(flagConfig, ".yaml", ".yml")
}

func writeIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logr.FromContextOrDiscard(ctx)

	configPath, _ := cmd.Flags().GetString(flagConfig)
	outDir, _ := cmd.Flags().GetString(flagOutput)
	pushRef, _ := cmd.Flags().GetString(flagPush)

	cfg, err := v1.ReadFile(configPath)
	if err != nil {
		return err
	}
	repo, err := newRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	report, err := repo.engine.Run(ctx)
	if err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		log.Info("some packages could not be synchronised", "errors", n)
	}

	if err := writeTree(ctx, repo, outDir, time.Now()); err != nil {
		return err
	}
	if pushRef != "" {
		if _, err := containerutil.Push(ctx, outDir, pushRef, containerutil.Options{}); err != nil {
			return err
		}
	}
	return nil
}

// writeTree writes every distribution of the repository
// to outDir in the layout the server uses, so that the
// directory can be served as is. now is used for the
// Release date when one is configured.
func writeTree(ctx context.Context, repo *repository, outDir string, now time.Time) error {
	log := logr.FromContextOrDiscard(ctx)

	dists, err := repo.store.Distributions(ctx)
	if err != nil {
		return err
	}
	meta := repo.releaseMeta()
	if repo.config.Spec.Release.Date {
		meta.Date = now
	}
	for _, dist := range dists {
		root := filepath.Join(outDir, "dists", dist)

		components, archs, err := repo.builder.Layout(ctx, repo.store, dist)
		if err != nil {
			return err
		}
		for _, component := range components {
			for _, arch := range archs {
				dir := filepath.Join(root, component, "binary-"+arch)
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
				for _, enc := range index.Encodings {
					if err := writePackages(ctx, repo, dist, component, arch, enc, filepath.Join(dir, enc.Filename())); err != nil {
						return err
					}
				}
			}
		}
		count, err := writePool(ctx, repo, outDir, dist, components)
		if err != nil {
			return err
		}

		release, err := repo.builder.Release(ctx, repo.store, dist, meta, true)
		if err != nil {
			return err
		}
		files := map[string][]byte{"Release": []byte(release)}
		if repo.signer != nil {
			if files["InRelease"], err = repo.signer.ClearSign(files["Release"]); err != nil {
				return err
			}
			if files["Release.gpg"], err = repo.signer.DetachSign(files["Release"]); err != nil {
				return err
			}
		}
		for name, data := range files {
			if err := os.WriteFile(filepath.Join(root, name), data, 0644); err != nil {
				return err
			}
		}
		log.Info("wrote distribution", "dist", dist, "path", root, "packages", count)
	}
	if repo.signer != nil {
		key, err := repo.signer.PublicKey()
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, "public.key"), key, 0644); err != nil {
			return err
		}
	}
	return nil
}

func writePackages(ctx context.Context, repo *repository, dist, component, arch string, enc index.Encoding, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := repo.builder.Packages(ctx, repo.store, dist, component, arch, enc, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// writePool copies the bytes of every package of a
// distribution to its pool path.
func writePool(ctx context.Context, repo *repository, outDir, dist string, components []string) (int, error) {
	archs, err := repo.store.Architectures(ctx, dist)
	if err != nil {
		return 0, err
	}
	var count int
	for _, component := range components {
		for _, arch := range archs {
			records, err := repo.store.List(ctx, dist, component, arch)
			if err != nil {
				return count, err
			}
			for _, fields := range records {
				rec, err := repo.store.Get(ctx, store.Key{
					Distribution: dist,
					Component:    component,
					Name:         fields.Package(),
					Version:      fields.Version(),
					Architecture: fields.Architecture(),
				})
				if err != nil {
					return count, err
				}
				if err := writePoolFile(ctx, repo, outDir, rec); err != nil {
					return count, err
				}
				count++
			}
		}
	}
	return count, nil
}

func writePoolFile(ctx context.Context, repo *repository, outDir string, rec *store.Record) error {
	key := rec.Key()
	path := filepath.Join(outDir, filepath.FromSlash(index.PoolPath(key.Distribution, key.Component, key.Name, key.Version, key.Architecture)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	rc, err := repo.engine.Open(ctx, rec)
	if err != nil {
		return fmt.Errorf("opening %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// the bytes must still be the ones the index describes
	dw := digest.NewWriter()
	if _, err := io.Copy(io.MultiWriter(f, dw), rc); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if got, want := dw.Sum().SHA256, rec.Control.Value(control.FieldSHA256); got != want {
		return fmt.Errorf("%s changed upstream: sha256 is %s, expected %s", key, got, want)
	}
	return f.Close()
}
