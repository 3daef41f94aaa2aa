package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/manifest"
	"github.com/oshokin/dynaso/internal/service/common"
	"github.com/oshokin/dynaso/internal/service/packager"
	"github.com/oshokin/dynaso/internal/service/restore"
)

// TestEndToEnd_OffloadRestoreRerun offloads two libraries through the real server,
// restores them, and reruns the packager against a registry that now knows them.
func TestEndToEnd_OffloadRestoreRerun(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	proj := newProject(t, srv.httpURL, srv.grpcAddress,
		config.Library{Name: "libflutter", Version: "3.22.0"},
		config.Library{Name: "libapp", Version: "1.0.0-5c1e", MinVersion: "1.0.0", MaxVersion: "1.9.9"},
	)

	contents := map[string]string{}

	for _, name := range []string{"libflutter", "libapp"} {
		for _, arch := range nativelib.DefaultArchitectures() {
			content := name + " for " + arch
			contents[proj.addBinary(t, arch, name, content)] = content
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := packager.Execute(ctx, &packager.Options{ConfigPath: proj.configPath, Strict: true})
	require.NoError(t, err)
	require.NoError(t, summary.Err())

	for path := range contents {
		require.NoFileExists(t, path)
	}

	stored, err := os.ReadDir(srv.storageDir)
	require.NoError(t, err)
	require.Len(t, stored, 4)

	app, err := manifest.Read(proj.manifestPath("appso.json"))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", app.LibraryVersion)
	require.Equal(t, "1.9.9", app.MaxAppVersion)
	require.Len(t, app.Entries, 2)

	// The server registered every upload under its dedup key.
	client, err := common.Dial(ctx, srv.grpcAddress, common.WithCallTimeout(5*time.Second))
	require.NoError(t, err)

	defer client.Close()

	arm64 := app.Entries[nativelib.ArchARM64]

	url, err := client.Lookup(ctx, "libapp", nativelib.RegistryKey("1.0.0-5c1e", nativelib.ArchARM64, arm64.Digest))
	require.NoError(t, err)
	require.Equal(t, arm64.URL, url)
	require.Equal(t,
		srv.httpURL+"/api/download/"+archive.Name("libapp", "1.0.0-5c1e", arm64.Digest, nativelib.ArchARM64),
		url)

	// Restore brings every binary back byte for byte.
	report, err := restore.Run(ctx, &restore.Options{ConfigPath: proj.configPath})
	require.NoError(t, err)
	require.Len(t, report.Restored, 4)

	for path, content := range contents {
		data, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		require.Equal(t, content, string(data))
	}

	firstManifest, err := os.ReadFile(proj.manifestPath("flutterso.json"))
	require.NoError(t, err)

	// A rerun hits the registry for every binary and packages nothing.
	_, err = packager.Execute(ctx, &packager.Options{ConfigPath: proj.configPath, Strict: true, KeepArchives: true})
	require.NoError(t, err)

	archives, err := filepath.Glob(filepath.Join(proj.cfg.WorkDir, "*"+archive.Extension))
	require.NoError(t, err)
	require.Empty(t, archives)

	secondManifest, err := os.ReadFile(proj.manifestPath("flutterso.json"))
	require.NoError(t, err)
	require.JSONEq(t, string(firstManifest), string(secondManifest))

	for path := range contents {
		require.NoFileExists(t, path)
	}
}

// TestEndToEnd_StorageDown keeps every binary and writes no manifest.
func TestEndToEnd_StorageDown(t *testing.T) {
	t.Parallel()

	proj := newProject(t, "http://127.0.0.1:1", "",
		config.Library{Name: "libflutter", Version: "3.22.0"},
	)

	binary := proj.addBinary(t, nativelib.ArchARM64, "libflutter", "engine")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := packager.Execute(ctx, &packager.Options{ConfigPath: proj.configPath})
	require.NoError(t, err)
	require.ErrorIs(t, summary.Err(), nativelib.ErrUpload)

	require.FileExists(t, binary)
	require.NoFileExists(t, proj.manifestPath("flutterso.json"))

	_, err = packager.Execute(ctx, &packager.Options{ConfigPath: proj.configPath, Strict: true})
	require.ErrorIs(t, err, nativelib.ErrUpload)
}

// TestEndToEnd_PartialFailureVetoesCleanup keeps both binaries when one architecture
// cannot be uploaded while the other is already hosted.
func TestEndToEnd_PartialFailureVetoesCleanup(t *testing.T) {
	t.Parallel()

	srv := startServer(t)

	// Host arm64 through a first project.
	seed := newProject(t, srv.httpURL, srv.grpcAddress, config.Library{Name: "libflutter", Version: "3.22.0"})
	seed.addBinary(t, nativelib.ArchARM64, "libflutter", "arm64 engine")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := packager.Execute(ctx, &packager.Options{ConfigPath: seed.configPath, Strict: true})
	require.NoError(t, err)

	// The second project finds arm64 in the registry but cannot reach storage for armv7.
	proj := newProject(t, "http://127.0.0.1:1", srv.grpcAddress, config.Library{Name: "libflutter", Version: "3.22.0"})
	arm64 := proj.addBinary(t, nativelib.ArchARM64, "libflutter", "arm64 engine")
	armv7 := proj.addBinary(t, nativelib.ArchARMv7, "libflutter", "armv7 engine")

	summary, err := packager.Execute(ctx, &packager.Options{ConfigPath: proj.configPath})
	require.NoError(t, err)

	result := summary.Results["libflutter"]
	require.NotNil(t, result)
	require.Equal(t, nativelib.Outcome{nativelib.ArchARM64: true, nativelib.ArchARMv7: false}, result.Outcome)
	require.Empty(t, result.Deleted)

	require.FileExists(t, arm64)
	require.FileExists(t, armv7)

	written, err := manifest.Read(proj.manifestPath("flutterso.json"))
	require.NoError(t, err)
	require.Len(t, written.Entries, 1)
	require.Contains(t, written.Entries, nativelib.ArchARM64)
}
