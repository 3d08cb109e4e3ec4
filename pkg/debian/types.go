package debian

import (
	"errors"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/digest"
)

var (
	ErrMalformedPackage = errors.New("malformed package")
	ErrNotFound         = errors.New("package file not found")
)

// Inspection is the metadata recovered from a .deb.
type Inspection struct {
	Control   *control.Fields
	Checksums digest.Checksums
	// Member is the name of the control archive member
	// the metadata was read from.
	Member string
	// Format is the content of the debian-binary member.
	Format string
}

// Package is a single stanza of an upstream Packages index.
type Package struct {
	Package      string
	Version      string
	Architecture string
	Filename     string
	Size         string
	SHA256       string `control:"SHA256"`
}

type Index struct {
	packages []Package
	source   string
}

// Selector restricts which packages are taken from an
// index, using the syntax of a single "Depends" clause.
type Selector struct {
	Names      []string
	Version    string
	Constraint string
}
