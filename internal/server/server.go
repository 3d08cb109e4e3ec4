package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/djcass44/all-your-debs/pkg/index"
	"github.com/djcass44/all-your-debs/pkg/signing"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/djcass44/all-your-debs/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Opener streams the bytes of a registered package.
type Opener interface {
	Open(ctx context.Context, rec *store.Record) (io.ReadCloser, error)
}

type Options struct {
	Release index.ReleaseMeta
	// Date adds the time of the request to Release files.
	Date bool
	// Signer signs Release files. Without one, InRelease,
	// Release.gpg and the public key are not served.
	Signer *signing.Signer
}

type Server struct {
	store   store.Store
	opener  Opener
	builder *index.Builder
	opts    Options
	log     logr.Logger
}

func New(ctx context.Context, s store.Store, opener Opener, builder *index.Builder, opts Options) *Server {
	return &Server{
		store:   s,
		opener:  opener,
		builder: builder,
		opts:    opts,
		log:     logr.FromContextOrDiscard(ctx).WithName("server"),
	}
}

// Handler returns the routes of the repository.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		router.Handle(method, "/dists/*path", s.dists)
		router.Handle(method, "/pool/*path", s.pool)
		router.Handle(method, "/public.gpg", s.publicKey)
		router.Handle(method, "/public.key", s.publicKey)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// logRequests logs each request and counts it by
// status code and top level path.
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := s.log.WithValues("method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(logr.NewContext(c.Request.Context(), log))

		c.Next()

		requestsTotal.WithLabelValues(statusLabel(c.Writer.Status()), c.Request.Method, basePath(c.Request.URL.Path)).Inc()
		log.V(1).Info("handled request", "code", c.Writer.Status(), "size", c.Writer.Size(), "duration", time.Since(start))
		for _, err := range c.Errors {
			log.Error(err.Err, "request failed", "code", c.Writer.Status())
		}
	}
}

// abort maps err onto a status code.
func abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled):
		// the client went away
		code = 499
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, index.ErrEmptyDistribution),
		errors.Is(err, index.ErrUnknownIndex),
		errors.Is(err, signing.ErrNoKey),
		errors.Is(err, errNotFound):
		code = http.StatusNotFound
	case errors.Is(err, sources.ErrNotFound):
		// the package is registered but the source
		// no longer has it
		code = http.StatusBadGateway
	case errors.Is(err, index.ErrStalled):
		code = http.StatusServiceUnavailable
	}
	if c.Writer.Written() {
		_ = c.Error(err)
		c.Abort()
		return
	}
	_ = c.AbortWithError(code, err)
}
