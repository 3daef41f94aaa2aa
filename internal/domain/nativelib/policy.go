package nativelib

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Default compatibility bounds used when a library declares no policy.
const (
	DefaultMinAppVersion = "1.0.0"
	DefaultMaxAppVersion = "9.9.9"
)

// versionPattern is the accepted shape of policy versions.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Policy is the caller-declared compatibility policy of one library.
type Policy struct {
	// Name is the logical library name the policy applies to.
	Name string
	// MinVersion is the lowest app version allowed to use the hosted binaries.
	MinVersion string
	// MaxVersion is the highest app version allowed to use the hosted binaries.
	MaxVersion string
	// UploadURL optionally overrides the upload endpoint advertised in the manifest.
	UploadURL string
	// DownloadURL optionally overrides the download endpoint advertised in the manifest.
	DownloadURL string
}

// DefaultPolicy returns the policy applied when none is configured.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:       name,
		MinVersion: DefaultMinAppVersion,
		MaxVersion: DefaultMaxAppVersion,
	}
}

// WithDefaults fills empty bounds with the defaults.
func (p Policy) WithDefaults() Policy {
	if p.MinVersion == "" {
		p.MinVersion = DefaultMinAppVersion
	}

	if p.MaxVersion == "" {
		p.MaxVersion = DefaultMaxAppVersion
	}

	return p
}

// Validate rejects malformed versions, inverted bounds and non-HTTP override URLs.
// Every returned error wraps ErrConfigInvalid.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: library name is empty", ErrConfigInvalid)
	}

	if !IsValidVersion(p.MinVersion) {
		return fmt.Errorf("%w: %s: min version %q is not x.y.z", ErrConfigInvalid, p.Name, p.MinVersion)
	}

	if !IsValidVersion(p.MaxVersion) {
		return fmt.Errorf("%w: %s: max version %q is not x.y.z", ErrConfigInvalid, p.Name, p.MaxVersion)
	}

	if CompareVersions(p.MinVersion, p.MaxVersion) > 0 {
		return fmt.Errorf("%w: %s: min version %s is greater than max version %s",
			ErrConfigInvalid, p.Name, p.MinVersion, p.MaxVersion)
	}

	for _, raw := range []string{p.UploadURL, p.DownloadURL} {
		if !isValidOverrideURL(raw) {
			return fmt.Errorf("%w: %s: override URL %q must be http or https", ErrConfigInvalid, p.Name, raw)
		}
	}

	return nil
}

// IsValidVersion reports whether v has the x.y.z numeric shape.
func IsValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// CompareVersions compares dotted numeric versions component by component.
// Missing components count as zero. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	left := strings.Split(a, ".")
	right := strings.Split(b, ".")

	for i := range max(len(left), len(right)) {
		l, r := versionComponent(left, i), versionComponent(right, i)

		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		}
	}

	return 0
}

func versionComponent(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}

	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}

	return n
}

func isValidOverrideURL(raw string) bool {
	if raw == "" {
		return true
	}

	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
