package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/djcass44/all-your-debs/pkg/airutil"
	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every cached package download",
	RunE:  clean,
}

const (
	flagCacheDir = "cache-dir"
	flagConfig   = "config"
)

func init() {
	cleanCmd.Flags().String(flagCacheDir, "", "cache directory (defaults to the cacheDir of --config, then the user cache dir)")
	cleanCmd.Flags().StringP(flagConfig, "c", "", "path to a repository configuration file")
	cleanCmd.MarkFlagsMutuallyExclusive(flagCacheDir, flagConfig)
	_ = cleanCmd.MarkFlagFilename(flagConfig, ".yaml", ".yml")
}

func clean(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())

	dir, err := cacheDir(cmd)
	if err != nil {
		return err
	}
	files, size, err := usage(dir)
	if err != nil {
		return err
	}
	log.Info("deleting cache dir", "dir", dir, "files", files, "bytes", size)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing cache dir: %w", err)
	}
	return nil
}

// cacheDir resolves the directory the sources of a
// repository download into.
func cacheDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString(flagCacheDir)
	if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
		cfg, err := v1.ReadFile(path)
		if err != nil {
			return "", err
		}
		dir = airutil.ExpandEnv(cfg.Spec.CacheDir)
	}
	return sources.CacheDir(dir), nil
}

// usage counts the files under dir and their total size.
func usage(dir string) (int, int64, error) {
	var files int
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0, nil
	}
	return files, size, err
}
