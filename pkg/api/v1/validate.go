package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend returns the name of the configured backend.
func (s *Source) Backend() (string, error) {
	var found []string
	for name, set := range map[string]bool{
		"http":          s.HTTP != nil,
		"getter":        s.Getter != nil,
		"mirror":        s.Mirror != nil,
		"githubRelease": s.GitHubRelease != nil,
		"githubBranch":  s.GitHubBranch != nil,
		"oci":           s.OCI != nil,
		"s3":            s.S3 != nil,
		"azure":         s.Azure != nil,
		"swift":         s.Swift != nil,
	} {
		if set {
			found = append(found, name)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("source %q has no backend", s.Name)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("source %q has multiple backends", s.Name)
	}
}

func (s *Source) Validate() error {
	if s.Name == "" {
		return errors.New("source name is required")
	}
	if s.Component == "" || strings.ContainsAny(s.Component, "/ ") {
		return fmt.Errorf("source %q has an invalid component %q", s.Name, s.Component)
	}
	backend, err := s.Backend()
	if err != nil {
		return err
	}
	missing := func(field string) error {
		return fmt.Errorf("source %q: %s.%s is required", s.Name, backend, field)
	}
	switch {
	case s.HTTP != nil && len(s.HTTP.URLs) == 0:
		return missing("urls")
	case s.Getter != nil && len(s.Getter.URLs) == 0:
		return missing("urls")
	case s.Mirror != nil && s.Mirror.URL == "":
		return missing("url")
	case s.Mirror != nil && s.Mirror.Distribution == "":
		return missing("distribution")
	case s.Mirror != nil && len(s.Mirror.Architectures) == 0:
		return missing("architectures")
	case s.GitHubRelease != nil && (s.GitHubRelease.Owner == "" || s.GitHubRelease.Repo == ""):
		return missing("owner/repo")
	case s.GitHubBranch != nil && (s.GitHubBranch.Owner == "" || s.GitHubBranch.Repo == ""):
		return missing("owner/repo")
	case s.GitHubBranch != nil && s.GitHubBranch.Branch == "":
		return missing("branch")
	case s.OCI != nil && s.OCI.Image == "":
		return missing("image")
	case s.S3 != nil && s.S3.Bucket == "":
		return missing("bucket")
	case s.Azure != nil && (s.Azure.AccountName == "" || s.Azure.Container == ""):
		return missing("accountName/container")
	case s.Swift != nil && (s.Swift.AuthURL == "" || s.Swift.Container == ""):
		return missing("authURL/container")
	}
	return nil
}

// Validate checks the whole document. It is the only
// place configuration errors are raised.
func (r *Repository) Validate() error {
	if r.Kind != "" && r.Kind != Kind {
		return fmt.Errorf("unexpected kind %q", r.Kind)
	}
	if len(r.Spec.Distributions) == 0 {
		return errors.New("at least one distribution is required")
	}
	names := map[string]bool{}
	for dist, srcs := range r.Spec.Distributions {
		if dist == "" || strings.ContainsAny(dist, "/ ") {
			return fmt.Errorf("invalid distribution name %q", dist)
		}
		for i := range srcs {
			if err := srcs[i].Validate(); err != nil {
				return fmt.Errorf("distribution %s: %w", dist, err)
			}
			if names[srcs[i].Name] {
				return fmt.Errorf("duplicate source name %q", srcs[i].Name)
			}
			names[srcs[i].Name] = true
		}
	}
	switch r.Spec.Store.Type {
	case "", StoreMemory:
	case StoreLevelDB:
		if r.Spec.Store.Path == "" {
			return errors.New("store.path is required for leveldb")
		}
	default:
		return fmt.Errorf("unknown store type %q", r.Spec.Store.Type)
	}
	if r.Spec.Signing != nil && r.Spec.Signing.PrivateKeyPath == "" {
		return errors.New("signing.privateKeyPath is required")
	}
	if r.Spec.Sync.Interval != "" {
		if _, err := time.ParseDuration(r.Spec.Sync.Interval); err != nil {
			return fmt.Errorf("invalid sync interval: %w", err)
		}
	}
	return nil
}
