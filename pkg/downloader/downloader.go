package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-getter"
)

type Downloader struct {
	cacheDir string
}

func NewDownloader(cacheDir string) (*Downloader, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}
	return &Downloader{cacheDir: cacheDir}, nil
}

// Path returns the location in the cache that src
// is downloaded to.
func (d *Downloader) Path(src string) (string, error) {
	uri, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	// prefix the name with a hash of the source so that
	// files with the same name from different places
	// don't collide
	return filepath.Join(d.cacheDir, cacheKey(src)+"-"+filepath.Base(uri.Path)), nil
}

// Download fetches src into the cache and returns the path
// to the file. Files already in the cache are reused.
func (d *Downloader) Download(ctx context.Context, src string) (string, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("src", src)

	// download the file to a predictable location so that
	// we can avoid repeated downloads
	dst, err := d.Path(src)
	if err != nil {
		log.Error(err, "failed to parse url")
		return "", err
	}
	if fi, err := os.Stat(dst); err == nil && fi.Mode().IsRegular() {
		log.V(1).Info("using cached file", "dst", dst)
		return dst, nil
	}
	log.Info("downloading file", "dst", dst)

	client := &getter.Client{
		Ctx:             ctx,
		Src:             src,
		Dst:             dst,
		Mode:            getter.ClientModeFile,
		DisableSymlinks: true,
	}
	if err := client.Get(); err != nil {
		log.Error(err, "failed to download file")
		_ = os.Remove(dst)
		return "", err
	}
	// we need to chmod the files so that the root group
	// can access them as if they were the owner
	if err := os.Chmod(dst, 0664); err != nil {
		log.Error(err, "failed to update file permissions", "file", dst)
		return "", err
	}
	return dst, nil
}

// Open downloads src if required and opens it.
func (d *Downloader) Open(ctx context.Context, src string) (*os.File, error) {
	dst, err := d.Download(ctx, src)
	if err != nil {
		return nil, err
	}
	return os.Open(dst)
}

// Evict removes src from the cache.
func (d *Downloader) Evict(src string) error {
	dst, err := d.Path(src)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// cacheKey is a short, stable prefix for the cache
// entry of src.
func cacheKey(src string) string {
	h := sha256.Sum256([]byte(src))
	return hex.EncodeToString(h[:6])
}
