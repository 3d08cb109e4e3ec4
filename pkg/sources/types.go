package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrUnsupportedKind = errors.New("restore descriptor does not belong to this source")
)

// Kind identifies a source backend.
type Kind string

const (
	KindHTTP          Kind = "http"
	KindGetter        Kind = "getter"
	KindMirror        Kind = "mirror"
	KindGitHubRelease Kind = "github-release"
	KindGitHubBranch  Kind = "github-branch"
	KindOCI           Kind = "oci"
	KindS3            Kind = "s3"
	KindAzure         Kind = "azure"
	KindSwift         Kind = "swift"
)

// RestoreDescriptor records how to fetch a package's bytes
// again without keeping a copy. Which fields are used
// depends on Kind. Credentials are never stored here; the
// owning source adds them when the descriptor is opened.
type RestoreDescriptor struct {
	Kind Kind `codec:"kind" json:"kind"`
	// URL of the package for HTTP based backends.
	URL     string            `codec:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `codec:"headers,omitempty" json:"headers,omitempty"`
	// Image, Digest and Path locate a file inside an OCI layer.
	Image  string `codec:"image,omitempty" json:"image,omitempty"`
	Digest string `codec:"digest,omitempty" json:"digest,omitempty"`
	Path   string `codec:"path,omitempty" json:"path,omitempty"`
	// Bucket and Key locate an object store entry.
	Bucket string `codec:"bucket,omitempty" json:"bucket,omitempty"`
	Key    string `codec:"key,omitempty" json:"key,omitempty"`
}

// Candidate is a package a source believes it can provide.
type Candidate struct {
	// ID identifies the candidate within its source.
	ID string
	// Revision fingerprints the content of the candidate
	// when the listing exposes one (an ETag or digest).
	// It is empty when the content can only be known by
	// downloading it.
	Revision string
	Restore  RestoreDescriptor
}

// Source lists and opens packages from a single origin.
type Source interface {
	ID() string
	Kind() Kind
	// List enumerates every package currently available.
	List(ctx context.Context) ([]Candidate, error)
	// Open streams the bytes described by rd. The caller
	// must close the returned reader.
	Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error)
}

// StatusError is returned when a remote responds with
// an unexpected status code.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// IsTransient reports whether an operation that failed
// with err may succeed if retried.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrUnsupportedKind)
}

func checkKind(rd RestoreDescriptor, kind Kind) error {
	if rd.Kind != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrUnsupportedKind, rd.Kind, kind)
	}
	return nil
}
