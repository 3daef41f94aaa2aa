package nativelib

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Manifest JSON keys shared with the runtime loader.
const (
	keyMinAppVersion = "minAppVersion"
	keyMaxAppVersion = "maxAppVersion"
	keyUploadURL     = "uploadUrl"
	keyDownloadURL   = "downloadUrl"
	versionKeySuffix = "Version"
)

// DefaultDigestAlgorithm is the digest the runtime loader expects when an entry
// carries no algorithm field.
const DefaultDigestAlgorithm = "md5"

var errManifestVersionKey = errors.New("manifest has no library version key")

// Library identifies one offloading target of a build variant.
type Library struct {
	// Name is the logical binary name without extension. It doubles as the
	// registry type discriminator.
	Name string
	// Version is the source version, possibly carrying a dedup suffix.
	Version string
	// ManifestFile is the file name written into the assets tree.
	ManifestFile string
	// Policy holds the compatibility bounds; nil means defaults.
	Policy *Policy
}

// DefaultManifestFile derives the manifest file name from a library name:
// "libflutter" becomes "flutterso.json".
func DefaultManifestFile(name string) string {
	return strings.TrimPrefix(name, "lib") + "so.json"
}

// EffectivePolicy returns the configured policy with defaults applied.
func (l Library) EffectivePolicy() Policy {
	if l.Policy == nil {
		return DefaultPolicy(l.Name)
	}

	p := l.Policy.WithDefaults()
	if p.Name == "" {
		p.Name = l.Name
	}

	return p
}

// Manifest describes where the runtime fetches each architecture's binary.
type Manifest struct {
	// LibraryName is the logical library name; it prefixes the version key.
	LibraryName string
	// LibraryVersion is the base version with the dedup suffix stripped.
	LibraryVersion string
	// Entries maps architecture to its resolved entry.
	Entries map[string]Entry
	// MinAppVersion is the lowest compatible app version.
	MinAppVersion string
	// MaxAppVersion is the highest compatible app version.
	MaxAppVersion string
	// UploadURL is an optional override, omitted when empty.
	UploadURL string
	// DownloadURL is an optional override, omitted when empty.
	DownloadURL string
	// Algorithm is the digest function of every entry.
	Algorithm string
}

// manifestEntry is the JSON shape of one architecture.
type manifestEntry struct {
	URL       string `json:"url"`
	Digest    string `json:"md5"`
	Size      int64  `json:"size"`
	Algorithm string `json:"algorithm,omitempty"`
}

// MarshalJSON flattens the manifest into the object the runtime loader reads.
// Keys of a Go map are emitted sorted, so identical manifests encode identically.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	object := make(map[string]any, len(m.Entries)+5)

	object[m.LibraryName+versionKeySuffix] = m.LibraryVersion
	object[keyMinAppVersion] = m.MinAppVersion
	object[keyMaxAppVersion] = m.MaxAppVersion

	if m.UploadURL != "" {
		object[keyUploadURL] = m.UploadURL
	}

	if m.DownloadURL != "" {
		object[keyDownloadURL] = m.DownloadURL
	}

	algorithm := ""
	if m.Algorithm != "" && m.Algorithm != DefaultDigestAlgorithm {
		algorithm = m.Algorithm
	}

	for arch, entry := range m.Entries {
		object[arch] = manifestEntry{
			URL:       entry.URL,
			Digest:    entry.Digest,
			Size:      entry.Size,
			Algorithm: algorithm,
		}
	}

	return json.Marshal(object)
}

// UnmarshalJSON reads a manifest previously written by MarshalJSON.
// Object values are architecture entries; the single "<name>Version" string
// key names the library.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}

	parsed := Manifest{
		Entries:   make(map[string]Entry, len(object)),
		Algorithm: DefaultDigestAlgorithm,
	}

	for key, raw := range object {
		switch key {
		case keyMinAppVersion:
			if err := json.Unmarshal(raw, &parsed.MinAppVersion); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyMaxAppVersion:
			if err := json.Unmarshal(raw, &parsed.MaxAppVersion); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyUploadURL:
			if err := json.Unmarshal(raw, &parsed.UploadURL); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyDownloadURL:
			if err := json.Unmarshal(raw, &parsed.DownloadURL); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		default:
			if err := parsed.decodeDynamicKey(key, raw); err != nil {
				return err
			}
		}
	}

	if parsed.LibraryName == "" {
		return errManifestVersionKey
	}

	*m = parsed

	return nil
}

func (m *Manifest) decodeDynamicKey(key string, raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var entry manifestEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("entry %s: %w", key, err)
		}

		if entry.Algorithm != "" {
			m.Algorithm = entry.Algorithm
		}

		m.Entries[key] = Entry{
			Architecture: key,
			URL:          entry.URL,
			Digest:       entry.Digest,
			Size:         entry.Size,
		}

		return nil
	}

	if name, ok := strings.CutSuffix(key, versionKeySuffix); ok && name != "" {
		m.LibraryName = name

		return json.Unmarshal(raw, &m.LibraryVersion)
	}

	return nil
}
