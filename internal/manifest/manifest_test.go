package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

func sampleEntries() map[string]nativelib.Entry {
	return map[string]nativelib.Entry{
		nativelib.ArchARM64: {
			Architecture: nativelib.ArchARM64,
			URL:          "http://h/api/download/a.zip",
			Digest:       "aa",
			Size:         1,
		},
	}
}

// TestBuild_DefaultsAndBaseVersion applies default bounds and strips the dedup suffix.
func TestBuild_DefaultsAndBaseVersion(t *testing.T) {
	t.Parallel()

	library := nativelib.Library{Name: "libapp", Version: "2.3.4-build17"}

	m := Build(library, sampleEntries(), "")

	require.Equal(t, "libapp", m.LibraryName)
	require.Equal(t, "2.3.4", m.LibraryVersion)
	require.Equal(t, nativelib.DefaultMinAppVersion, m.MinAppVersion)
	require.Equal(t, nativelib.DefaultMaxAppVersion, m.MaxAppVersion)
	require.Empty(t, m.UploadURL)
	require.Empty(t, m.DownloadURL)
	require.Equal(t, nativelib.DefaultDigestAlgorithm, m.Algorithm)
	require.Equal(t, sampleEntries(), m.Entries)
}

// TestBuild_PolicyOverrides carries bounds and only the URLs that are set.
func TestBuild_PolicyOverrides(t *testing.T) {
	t.Parallel()

	library := nativelib.Library{
		Name:    "libflutter",
		Version: "3.22.0",
		Policy: &nativelib.Policy{
			MinVersion:  "2.0.0",
			MaxVersion:  "3.0.0",
			DownloadURL: "https://cdn.example.com",
		},
	}

	m := Build(library, sampleEntries(), "sha256")

	require.Equal(t, "2.0.0", m.MinAppVersion)
	require.Equal(t, "3.0.0", m.MaxAppVersion)
	require.Empty(t, m.UploadURL)
	require.Equal(t, "https://cdn.example.com", m.DownloadURL)
	require.Equal(t, "sha256", m.Algorithm)
}

// TestBuild_CopiesEntries keeps the manifest independent of the caller's map.
func TestBuild_CopiesEntries(t *testing.T) {
	t.Parallel()

	entries := sampleEntries()
	m := Build(nativelib.Library{Name: "libapp", Version: "1.0.0"}, entries, "")

	delete(entries, nativelib.ArchARM64)

	require.Len(t, m.Entries, 1)
}

// TestWriter_WriteAndRead creates parent directories and reads back the same manifest.
func TestWriter_WriteAndRead(t *testing.T) {
	t.Parallel()

	assets := filepath.Join(t.TempDir(), "src", "main", "assets")
	writer := NewWriter(assets)
	want := Build(nativelib.Library{Name: "libflutter", Version: "3.22.0-x"}, sampleEntries(), "")

	path, err := writer.Write(context.Background(), "flutterso.json", want)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(assets, "flutterso.json"), path)

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestWriter_ReplacesPrevious overwrites an older manifest without leftovers.
func TestWriter_ReplacesPrevious(t *testing.T) {
	t.Parallel()

	assets := t.TempDir()
	writer := NewWriter(assets)
	target := filepath.Join(assets, "appso.json")

	require.NoError(t, os.WriteFile(target, []byte("stale"), 0o600))

	_, err := writer.Write(context.Background(), "appso.json",
		Build(nativelib.Library{Name: "libapp", Version: "1.0.0"}, sampleEntries(), ""))
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(data), `"libappVersion": "1.0.0"`)

	dirEntries, err := os.ReadDir(assets)
	require.NoError(t, err)
	require.Len(t, dirEntries, 1)
}

// TestWriter_Deterministic writes identical bytes for identical input.
func TestWriter_Deterministic(t *testing.T) {
	t.Parallel()

	library := nativelib.Library{Name: "libapp", Version: "1.0.0"}
	entries := map[string]nativelib.Entry{
		nativelib.ArchARM64: {Architecture: nativelib.ArchARM64, URL: "u1", Digest: "d1", Size: 1},
		nativelib.ArchARMv7: {Architecture: nativelib.ArchARMv7, URL: "u2", Digest: "d2", Size: 2},
	}

	first, err := NewWriter(t.TempDir()).Write(context.Background(), "appso.json", Build(library, entries, ""))
	require.NoError(t, err)

	second, err := NewWriter(t.TempDir()).Write(context.Background(), "appso.json", Build(library, entries, ""))
	require.NoError(t, err)

	firstData, err := os.ReadFile(first)
	require.NoError(t, err)

	secondData, err := os.ReadFile(second)
	require.NoError(t, err)

	require.Equal(t, firstData, secondData)
}

// TestWriter_Failure wraps ErrWrite when the assets path is unusable.
func TestWriter_Failure(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := NewWriter(blocker).Write(context.Background(), "appso.json",
		Build(nativelib.Library{Name: "libapp", Version: "1.0.0"}, nil, ""))
	require.ErrorIs(t, err, nativelib.ErrWrite)

	_, err = NewWriter(t.TempDir()).Write(context.Background(), "appso.json", nil)
	require.ErrorIs(t, err, nativelib.ErrWrite)
}
