package index

import (
	"context"
	"errors"
	"time"

	"github.com/djcass44/all-your-debs/pkg/control"
)

var (
	ErrStalled           = errors.New("index consumer stalled")
	ErrEmptyDistribution = errors.New("distribution has no packages")
	ErrUnknownIndex      = errors.New("unknown index")
)

// Encoding is one of the published forms of a Packages file.
type Encoding int

const (
	Raw Encoding = iota
	Gzip
	XZ
)

// Encodings lists every encoding in the order
// they appear in Release files.
var Encodings = []Encoding{Raw, Gzip, XZ}

// Lister provides the records an index is built from.
type Lister interface {
	// List returns the control fields of every package registered
	// for the exact distribution, component and architecture.
	List(ctx context.Context, distribution, component, arch string) ([]*control.Fields, error)
	Components(ctx context.Context, distribution string) ([]string, error)
	Architectures(ctx context.Context, distribution string) ([]string, error)
}

// ReleaseMeta holds the optional fields of a Release file.
// Empty values are omitted.
type ReleaseMeta struct {
	Origin      string
	Label       string
	Suite       string
	Codename    string
	Version     string
	Description string
	Date        time.Time
}

type Options struct {
	// QueueSize is the number of chunks buffered per encoding.
	QueueSize int
	// ChunkSize is the size of each chunk handed to the encoders.
	ChunkSize int
	// Timeout is how long a single encoding may fall
	// behind before the build is abandoned.
	Timeout time.Duration
}

type Builder struct {
	opts Options
}
