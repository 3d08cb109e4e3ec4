package debian

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	version "github.com/knqyf263/go-deb-version"
)

var regexpParseVersion = regexp.MustCompile(`\((?P<constraint>\W{1,2})?(?P<version>.*)\)`)
var regexpName = regexp.MustCompile(`^[^([]+`)

// ParseSelector parses a clause in the format used by the
// "Depends" field, e.g. "foo | bar (>= 1.0)".
//
// https://www.debian.org/doc/debian-policy/ch-relationships.html
func ParseSelector(s string) (*Selector, error) {
	matches := regexpName.FindStringSubmatch(s)
	if len(matches) == 0 || strings.TrimSpace(matches[0]) == "" {
		return nil, errors.New("unable to extract package names")
	}
	// extract the possible names
	names := strings.Split(matches[0], "|")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	// extract the version and constraint if they're present
	matches = regexpParseVersion.FindStringSubmatch(strings.TrimPrefix(s, matches[0]))
	var v string
	var constraint string
	if len(matches) >= 2 {
		v = strings.TrimSpace(matches[regexpParseVersion.SubexpIndex("version")])
		constraint = strings.TrimSpace(matches[regexpParseVersion.SubexpIndex("constraint")])
	}
	return &Selector{
		Names:      names,
		Version:    v,
		Constraint: constraint,
	}, nil
}

// Matches reports whether a package with the given
// name and version satisfies the selector.
func (s *Selector) Matches(name, v string) bool {
	if !slices.Contains(s.Names, name) {
		return false
	}
	// if there's a version missing, match
	// anything
	if v == "" || s.Version == "" {
		return true
	}
	v1, err := version.NewVersion(v)
	if err != nil {
		return false
	}
	v2, err := version.NewVersion(s.Version)
	if err != nil {
		return false
	}
	switch s.Constraint {
	case ">>", ">":
		return v1.GreaterThan(v2)
	case "<<", "<":
		return v1.LessThan(v2)
	case "=", "":
		return v1.Equal(v2)
	case ">=":
		return v1.GreaterThan(v2) || v1.Equal(v2)
	case "<=":
		return v1.LessThan(v2) || v1.Equal(v2)
	default:
		return false
	}
}
