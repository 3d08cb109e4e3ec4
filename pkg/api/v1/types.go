package v1

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

const (
	Group   = "ayd.dcas.dev"
	Version = "v1"
	Kind    = "Repository"
)

type StoreType string

const (
	StoreMemory  StoreType = "memory"
	StoreLevelDB StoreType = "leveldb"
)

type RepositorySpec struct {
	Release       ReleaseSpec         `json:"release,omitempty"`
	Signing       *SigningSpec        `json:"signing,omitempty"`
	Store         StoreSpec           `json:"store,omitempty"`
	Sync          SyncSpec            `json:"sync,omitempty"`
	CacheDir      string              `json:"cacheDir,omitempty"`
	Distributions map[string][]Source `json:"distributions"`
}

// ReleaseSpec holds the optional Release file fields.
type ReleaseSpec struct {
	Origin      string `json:"origin,omitempty"`
	Label       string `json:"label,omitempty"`
	Suite       string `json:"suite,omitempty"`
	Codename    string `json:"codename,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	// Date adds the time of generation to the Release file.
	Date bool `json:"date,omitempty"`
}

type SigningSpec struct {
	// PrivateKeyPath is the path to an armored private key.
	PrivateKeyPath string `json:"privateKeyPath"`
	Passphrase     string `json:"passphrase,omitempty"`
}

type StoreSpec struct {
	Type StoreType `json:"type,omitempty"`
	Path string    `json:"path,omitempty"`
}

type SyncSpec struct {
	Concurrency int `json:"concurrency,omitempty"`
	// FetchRate limits how many packages per second a
	// single source may start downloading.
	FetchRate float64 `json:"fetchRate,omitempty"`
	// Interval between scheduled runs, e.g. "1h".
	Interval string `json:"interval,omitempty"`
	// Retries is the number of attempts for transient errors.
	Retries int `json:"retries,omitempty"`
}

// Source is a single origin of packages. Exactly one
// backend must be set.
type Source struct {
	Name      string `json:"name"`
	Component string `json:"component"`

	HTTP          *HTTPSource          `json:"http,omitempty"`
	Getter        *GetterSource        `json:"getter,omitempty"`
	Mirror        *MirrorSource        `json:"mirror,omitempty"`
	GitHubRelease *GitHubReleaseSource `json:"githubRelease,omitempty"`
	GitHubBranch  *GitHubBranchSource  `json:"githubBranch,omitempty"`
	OCI           *OCISource           `json:"oci,omitempty"`
	S3            *S3Source            `json:"s3,omitempty"`
	Azure         *AzureSource         `json:"azure,omitempty"`
	Swift         *SwiftSource         `json:"swift,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type HTTPSource struct {
	URLs    []string          `json:"urls"`
	Headers map[string]string `json:"headers,omitempty"`
	Auth    *BasicAuth        `json:"auth,omitempty"`
}

type GetterSource struct {
	URLs []string `json:"urls"`
}

type MirrorSource struct {
	URL           string   `json:"url"`
	Distribution  string   `json:"distribution"`
	Component     string   `json:"component"`
	Architectures []string `json:"architectures"`
	// Packages restricts the mirror using "Depends" style
	// clauses, e.g. "curl (>= 7.0)".
	Packages []string   `json:"packages,omitempty"`
	Auth     *BasicAuth `json:"auth,omitempty"`
}

type GitHubReleaseSource struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Token string `json:"token,omitempty"`
	// Tags restricts which releases are used. Empty means all.
	Tags   []string `json:"tags,omitempty"`
	APIURL string   `json:"apiURL,omitempty"`
}

type GitHubBranchSource struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Token  string `json:"token,omitempty"`
	// Path restricts the tree walk to a directory.
	Path   string `json:"path,omitempty"`
	APIURL string `json:"apiURL,omitempty"`
	RawURL string `json:"rawURL,omitempty"`
}

type OCISource struct {
	Image    string     `json:"image"`
	Platform string     `json:"platform,omitempty"`
	Auth     *BasicAuth `json:"auth,omitempty"`
	Insecure bool       `json:"insecure,omitempty"`
}

type S3Source struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix,omitempty"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"accessKeyID,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
	PathStyle       bool   `json:"pathStyle,omitempty"`
}

type AzureSource struct {
	AccountName string `json:"accountName"`
	AccountKey  string `json:"accountKey"`
	Container   string `json:"container"`
	Prefix      string `json:"prefix,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

type SwiftSource struct {
	AuthURL   string `json:"authURL"`
	Username  string `json:"username"`
	APIKey    string `json:"apiKey"`
	Tenant    string `json:"tenant,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Container string `json:"container"`
	Prefix    string `json:"prefix,omitempty"`
}

type Repository struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec RepositorySpec `json:"spec"`
}
