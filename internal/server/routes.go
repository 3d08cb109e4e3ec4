package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/djcass44/all-your-debs/pkg/store"
	"github.com/gin-gonic/gin"
)

const contentTypeDeb = "application/vnd.debian.binary-package"

var errNotFound = errors.New("no such file")

// dists serves Release, InRelease, Release.gpg and
// the Packages indices below /dists/<dist>/.
func (s *Server) dists(c *gin.Context) {
	parts := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	switch {
	case len(parts) == 2:
		s.release(c, parts[0], parts[1])
	case len(parts) == 4 && strings.HasPrefix(parts[2], "binary-"):
		enc, ok := index.ParseEncoding(parts[3])
		if !ok {
			abort(c, fmt.Errorf("%w: %s", errNotFound, c.Request.URL.Path))
			return
		}
		s.packages(c, parts[0], parts[1], strings.TrimPrefix(parts[2], "binary-"), enc)
	default:
		abort(c, fmt.Errorf("%w: %s", errNotFound, c.Request.URL.Path))
	}
}

func (s *Server) release(c *gin.Context, dist, name string) {
	ctx := c.Request.Context()

	meta := s.opts.Release
	if s.opts.Date {
		meta.Date = time.Now()
	}
	var body []byte
	var contentType string
	switch name {
	case "Release", "InRelease", "Release.gpg":
		if name != "Release" && s.opts.Signer == nil {
			abort(c, fmt.Errorf("%w: repository is not signed", errNotFound))
			return
		}
		release, err := s.builder.Release(ctx, s.store, dist, meta, true)
		if err != nil {
			abort(c, err)
			return
		}
		body = []byte(release)
		contentType = "text/plain"
		switch name {
		case "InRelease":
			body, err = s.opts.Signer.ClearSign(body)
		case "Release.gpg":
			body, err = s.opts.Signer.DetachSign(body)
			contentType = "application/pgp-signature"
		}
		if err != nil {
			abort(c, fmt.Errorf("signing release: %w", err))
			return
		}
	default:
		abort(c, fmt.Errorf("%w: %s", errNotFound, c.Request.URL.Path))
		return
	}
	s.write(c, contentType, body)
}

func (s *Server) packages(c *gin.Context, dist, component, arch string, enc index.Encoding) {
	ctx := c.Request.Context()
	if c.Request.Method == http.MethodHead {
		sums, err := s.builder.Packages(ctx, s.store, dist, component, arch, enc, io.Discard)
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("Content-Length", strconv.FormatInt(sums.Size, 10))
		c.Header("Content-Type", enc.ContentType())
		c.Status(http.StatusOK)
		return
	}
	// the index is streamed as it is encoded, so headers
	// have to be set before we know whether it will work
	w := &lazyWriter{c: c, contentType: enc.ContentType()}
	if _, err := s.builder.Packages(ctx, s.store, dist, component, arch, enc, w); err != nil {
		abort(c, err)
		return
	}
	w.commit()
}

// pool serves /pool/<dist>/<component>/<name>/<version>/<arch>/download.deb.
func (s *Server) pool(c *gin.Context) {
	ctx := c.Request.Context()
	parts := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	if len(parts) != 6 || parts[5] != "download.deb" {
		abort(c, fmt.Errorf("%w: %s", errNotFound, c.Request.URL.Path))
		return
	}
	rec, err := s.store.Get(ctx, store.Key{
		Distribution: parts[0],
		Component:    parts[1],
		Name:         parts[2],
		Version:      parts[3],
		Architecture: parts[4],
	})
	if err != nil {
		abort(c, err)
		return
	}
	var rc io.ReadCloser = io.NopCloser(http.NoBody)
	if c.Request.Method != http.MethodHead {
		rc, err = s.opener.Open(ctx, rec)
		if err != nil {
			abort(c, err)
			return
		}
	}
	defer rc.Close()

	c.Header("Content-Type", contentTypeDeb)
	if size := rec.Control.Value(control.FieldSize); size != "" {
		c.Header("Content-Length", size)
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		abort(c, fmt.Errorf("streaming %s: %w", rec.Key(), err))
	}
}

func (s *Server) publicKey(c *gin.Context) {
	if s.opts.Signer == nil {
		abort(c, fmt.Errorf("%w: repository is not signed", errNotFound))
		return
	}
	key, err := s.opts.Signer.PublicKey()
	if err != nil {
		abort(c, err)
		return
	}
	s.write(c, "application/pgp-keys", key)
}

func (s *Server) write(c *gin.Context, contentType string, body []byte) {
	c.Header("Content-Length", strconv.Itoa(len(body)))
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", contentType)
		c.Status(http.StatusOK)
		return
	}
	c.DataFromReader(http.StatusOK, int64(len(body)), contentType, bytes.NewReader(body), nil)
}

// lazyWriter sets the response headers on the first write
// so that failures before any output can still change
// the status code. Once the request is finished or
// cancelled it refuses further writes.
type lazyWriter struct {
	c           *gin.Context
	contentType string
	started     bool
}

func (w *lazyWriter) Write(p []byte) (int, error) {
	if err := w.c.Request.Context().Err(); err != nil {
		return 0, err
	}
	w.commit()
	return w.c.Writer.Write(p)
}

func (w *lazyWriter) commit() {
	if w.started {
		return
	}
	w.started = true
	w.c.Header("Content-Type", w.contentType)
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}
