package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultGitHubAPI = "https://api.github.com"
	defaultGitHubRaw = "https://raw.githubusercontent.com"
	releasesPerPage  = 100
)

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Draft   bool          `json:"draft"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
	// URL is the API url of the asset, which returns
	// the binary when asked for application/octet-stream.
	URL string `json:"url"`
}

// revision changes whenever an asset is re-uploaded.
func (a githubAsset) revision() string {
	if a.ID == 0 {
		return ""
	}
	return fmt.Sprintf("%d@%s", a.ID, a.UpdatedAt)
}

type githubTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// GitHubRelease serves the .deb assets attached to the
// releases of a repository.
type GitHubRelease struct {
	base
	api    string
	owner  string
	repo   string
	tags   []string
	auth   func(r *http.Request)
	client *retryablehttp.Client
}

func NewGitHubRelease(ctx context.Context, id string, spec v1.GitHubReleaseSource, opts Options) *GitHubRelease {
	api := spec.APIURL
	if api == "" {
		api = defaultGitHubAPI
	}
	return &GitHubRelease{
		base:   base{id: id, kind: KindGitHubRelease},
		api:    strings.TrimSuffix(api, "/"),
		owner:  spec.Owner,
		repo:   spec.Repo,
		tags:   spec.Tags,
		auth:   bearerAuth(spec.Token),
		client: newHTTPClient(ctx, opts),
	}
}

func (s *GitHubRelease) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "owner", s.owner, "repo", s.repo)

	var out []Candidate
	for page := 1; ; page++ {
		target := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d", s.api, url.PathEscape(s.owner), url.PathEscape(s.repo), releasesPerPage, page)
		var releases []githubRelease
		if err := getJSON(ctx, s.client, target, s.auth, &releases); err != nil {
			return nil, err
		}
		log.V(2).Info("read page of releases", "page", page, "count", len(releases))
		for _, r := range releases {
			if r.Draft || (len(s.tags) > 0 && !slices.Contains(s.tags, r.TagName)) {
				continue
			}
			for _, a := range r.Assets {
				if !isDeb(a.Name) {
					continue
				}
				out = append(out, Candidate{
					ID:       r.TagName + "/" + a.Name,
					Revision: a.revision(),
					Restore: RestoreDescriptor{
						Kind:    KindGitHubRelease,
						URL:     a.URL,
						Headers: map[string]string{"Accept": "application/octet-stream"},
					},
				})
			}
		}
		if len(releases) < releasesPerPage {
			break
		}
	}
	return out, nil
}

func (s *GitHubRelease) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	return get(ctx, s.client, rd.URL, rd.Headers, s.auth)
}

// GitHubBranch serves the .deb files committed to
// a branch of a repository.
type GitHubBranch struct {
	base
	api    string
	raw    string
	owner  string
	repo   string
	branch string
	dir    string
	auth   func(r *http.Request)
	client *retryablehttp.Client
}

func NewGitHubBranch(ctx context.Context, id string, spec v1.GitHubBranchSource, opts Options) *GitHubBranch {
	api := spec.APIURL
	if api == "" {
		api = defaultGitHubAPI
	}
	raw := spec.RawURL
	if raw == "" {
		raw = defaultGitHubRaw
	}
	return &GitHubBranch{
		base:   base{id: id, kind: KindGitHubBranch},
		api:    strings.TrimSuffix(api, "/"),
		raw:    strings.TrimSuffix(raw, "/"),
		owner:  spec.Owner,
		repo:   spec.Repo,
		branch: spec.Branch,
		dir:    strings.Trim(spec.Path, "/"),
		auth:   bearerAuth(spec.Token),
		client: newHTTPClient(ctx, opts),
	}
}

func (s *GitHubBranch) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "owner", s.owner, "repo", s.repo, "branch", s.branch)

	target := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", s.api, url.PathEscape(s.owner), url.PathEscape(s.repo), url.PathEscape(s.branch))
	var tree githubTree
	if err := getJSON(ctx, s.client, target, s.auth, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		log.Info("repository tree was truncated, some packages may be missing")
	}
	var out []Candidate
	for _, e := range tree.Tree {
		if e.Type != "blob" || !isDeb(e.Path) {
			continue
		}
		if s.dir != "" && !strings.HasPrefix(e.Path, s.dir+"/") {
			continue
		}
		out = append(out, Candidate{
			ID:       e.Path,
			Revision: e.SHA,
			Restore: RestoreDescriptor{
				Kind: KindGitHubBranch,
				URL:  fmt.Sprintf("%s/%s/%s/%s/%s", s.raw, s.owner, s.repo, s.branch, e.Path),
			},
		})
	}
	log.V(1).Info("walked repository tree", "entries", len(tree.Tree), "packages", len(out))
	return out, nil
}

func (s *GitHubBranch) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	return get(ctx, s.client, rd.URL, rd.Headers, s.auth)
}

func getJSON(ctx context.Context, client *retryablehttp.Client, target string, auth func(r *http.Request), v any) error {
	body, err := get(ctx, client, target, map[string]string{"Accept": "application/vnd.github+json"}, auth)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", target, err)
	}
	return nil
}

func isDeb(name string) bool {
	return strings.EqualFold(path.Ext(name), ".deb")
}
