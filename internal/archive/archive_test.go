package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// hashedArtifact writes a binary and returns it as a hashed artifact.
func hashedArtifact(t *testing.T, content []byte, algorithm digest.Algorithm) nativelib.Artifact {
	t.Helper()

	dir := filepath.Join(t.TempDir(), nativelib.ArchARM64)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "libflutter.so")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	sum, err := digest.HashFile(path, algorithm)
	require.NoError(t, err)

	return nativelib.Artifact{
		Architecture: nativelib.ArchARM64,
		Name:         "libflutter",
		Path:         path,
	}.WithDigest(sum.Hex, sum.Size)
}

// TestName strips the dedup suffix from the version.
func TestName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "libflutter_3.22.0-abcd-arm64-v8a.zip", Name("libflutter", "3.22.0-77ff", "abcd", nativelib.ArchARM64))
}

// TestPackage_RoundTrip packages a binary and verifies both entries and the record.
func TestPackage_RoundTrip(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("native-code"), 1000)
	artifact := hashedArtifact(t, content, digest.MD5)
	workDir := filepath.Join(t.TempDir(), "packages")

	packager := &Packager{WorkDir: workDir, Algorithm: digest.MD5, Now: func() time.Time { return fixedNow }}

	path, err := packager.Package(context.Background(), artifact, "3.22.0-77ff", nativelib.ArchARM64, "libflutter")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workDir, Name("libflutter", "3.22.0", artifact.Digest, nativelib.ArchARM64)), path)

	record, extracted, err := Extract(path)
	require.NoError(t, err)
	require.Equal(t, content, extracted)
	require.Equal(t, nativelib.Record{
		Version:      "3.22.0-77ff",
		Digest:       artifact.Digest,
		Size:         int64(len(content)),
		FileName:     "libflutter.so",
		PackageName:  "libflutter",
		CreateTime:   fixedNow.UnixMilli(),
		Architecture: nativelib.ArchARM64,
	}, record)

	inspected, err := Inspect(path)
	require.NoError(t, err)
	require.Equal(t, record, inspected)

	leftovers, err := filepath.Glob(filepath.Join(workDir, "*.partial"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

// TestPackage_RecordsNonDefaultAlgorithm keeps the algorithm name in package-info.
func TestPackage_RecordsNonDefaultAlgorithm(t *testing.T) {
	t.Parallel()

	artifact := hashedArtifact(t, []byte("engine"), digest.BLAKE3)
	packager := &Packager{WorkDir: t.TempDir(), Algorithm: digest.BLAKE3}

	path, err := packager.Package(context.Background(), artifact, "1.0.0", nativelib.ArchARM64, "libflutter")
	require.NoError(t, err)

	record, err := Verify(path)
	require.NoError(t, err)
	require.Equal(t, "blake3", record.Algorithm)
}

// TestPackage_SourceVanished fails with ErrPackaging and leaves nothing behind.
func TestPackage_SourceVanished(t *testing.T) {
	t.Parallel()

	artifact := hashedArtifact(t, []byte("engine"), digest.MD5)
	require.NoError(t, os.Remove(artifact.Path))

	workDir := t.TempDir()
	packager := &Packager{WorkDir: workDir, Algorithm: digest.MD5}

	_, err := packager.Package(context.Background(), artifact, "1.0.0", nativelib.ArchARM64, "libflutter")
	require.ErrorIs(t, err, nativelib.ErrPackaging)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestPackage_SourceChangedAfterHashing rejects content that no longer matches the digest.
func TestPackage_SourceChangedAfterHashing(t *testing.T) {
	t.Parallel()

	artifact := hashedArtifact(t, []byte("engine"), digest.MD5)
	require.NoError(t, os.WriteFile(artifact.Path, []byte("patched"), 0o600))

	workDir := t.TempDir()
	packager := &Packager{WorkDir: workDir, Algorithm: digest.MD5}

	_, err := packager.Package(context.Background(), artifact, "1.0.0", nativelib.ArchARM64, "libflutter")
	require.ErrorIs(t, err, nativelib.ErrPackaging)
	require.ErrorIs(t, err, errSourceChanged)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestVerify_DetectsTampering rejects an archive whose binary does not match its record.
func TestVerify_DetectsTampering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "forged.zip")
	file, err := os.Create(path)
	require.NoError(t, err)

	writer := zip.NewWriter(file)

	entry, err := writer.Create("libapp.so")
	require.NoError(t, err)

	_, err = entry.Write([]byte("not what the record says"))
	require.NoError(t, err)

	info, err := writer.Create(nativelib.PackageInfoFileName)
	require.NoError(t, err)

	_, err = info.Write([]byte(`{"version":"1.0.0","md5":"00","size":24,"fileName":"libapp.so","packageName":"libapp"}`))
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	_, err = Verify(path)
	require.ErrorIs(t, err, ErrInvalid)

	record, err := Inspect(path)
	require.NoError(t, err)
	require.Equal(t, "libapp", record.PackageName)
}
