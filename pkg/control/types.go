package control

import "errors"

var (
	ErrMalformed      = errors.New("malformed control data")
	ErrMissingField   = errors.New("missing required control field")
	ErrInvalidVersion = errors.New("invalid package version")
)

// Field is a single key/value pair of a control paragraph.
type Field struct {
	Key   string `codec:"k" json:"key"`
	Value string `codec:"v" json:"value"`
}

// Fields is an ordered set of control fields.
// Keys are matched case-insensitively but keep the
// spelling they were first seen with.
type Fields struct {
	keys   []string
	values map[string]string
	names  map[string]string
}

const (
	FieldPackage      = "Package"
	FieldVersion      = "Version"
	FieldArchitecture = "Architecture"
	FieldFilename     = "Filename"
	FieldSize         = "Size"
	FieldMD5sum       = "MD5sum"
	FieldSHA1         = "SHA1"
	FieldSHA256       = "SHA256"
	FieldDescription  = "Description"
)
