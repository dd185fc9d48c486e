package syfturl

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const Scheme = "syft://"

var (
	ErrInvalidURL = errors.New("invalid syft url")

	// host is an email address, path is everything after it.
	urlRegex = regexp.MustCompile(`^syft://([a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+)(/.*)?$`)
)

// SyftURL addresses a file inside a datasite, e.g.
// syft://alice@example.com/api_data/pingpong/rpc/endpoint
type SyftURL struct {
	Host string `json:"host"`
	Path string `json:"path"`
}

// Parse decomposes a syft:// URL into host and path.
func Parse(s string) (*SyftURL, error) {
	m := urlRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, s)
	}
	return &SyftURL{
		Host: m[1],
		Path: strings.Trim(m[2], "/"),
	}, nil
}

// RPCEndpoint builds the canonical URL of an app's RPC endpoint.
func RPCEndpoint(datasite, appName, endpoint string) *SyftURL {
	endpoint = strings.Trim(endpoint, "/")
	return &SyftURL{
		Host: datasite,
		Path: fmt.Sprintf("api_data/%s/rpc/%s", appName, endpoint),
	}
}

// FromPath converts an absolute path under the datasites root back to a URL.
func FromPath(path string, datasitesRoot string) (*SyftURL, error) {
	rel, err := filepath.Rel(datasitesRoot, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q not under %q", ErrInvalidURL, path, datasitesRoot)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("%w: %q not under %q", ErrInvalidURL, path, datasitesRoot)
	}
	return Parse(Scheme + rel)
}

func (u *SyftURL) String() string {
	if u.Path == "" {
		return Scheme + u.Host
	}
	return Scheme + u.Host + "/" + u.Path
}

// ToLocalPath joins the URL onto the local datasites root.
func (u *SyftURL) ToLocalPath(datasitesRoot string) string {
	return filepath.Join(datasitesRoot, u.Host, filepath.FromSlash(u.Path))
}

// AsHTTPParams returns the URL as gateway query parameters.
func (u *SyftURL) AsHTTPParams() map[string]string {
	return map[string]string{
		"datasite": u.Host,
		"path":     u.Path,
	}
}

// AppName returns the application name for api_data RPC URLs, or "".
func (u *SyftURL) AppName() string {
	parts := strings.Split(u.Path, "/")
	if len(parts) >= 2 && parts[0] == "api_data" {
		return parts[1]
	}
	return ""
}

func (u SyftURL) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *SyftURL) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*u = *parsed
	return nil
}
