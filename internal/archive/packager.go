package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
)

// Extension is the archive file extension; ContentType is sent with uploads.
const (
	Extension   = ".zip"
	ContentType = "application/zip"
)

// workDirMode is used when creating the temporary package directory.
const workDirMode os.FileMode = 0o755

// Packager writes archives into a work directory.
type Packager struct {
	// WorkDir receives finished archives.
	WorkDir string
	// Algorithm is the digest function recorded in package-info.
	Algorithm digest.Algorithm
	// Now stamps the record; defaults to time.Now.
	Now func() time.Time
}

// Name returns <packageName>_<baseVersion>-<digest>-<architecture>.zip.
func Name(packageName, version, contentDigest, architecture string) string {
	return packageName + "_" + nativelib.BaseVersion(version) + "-" + contentDigest + "-" + architecture + Extension
}

// Package builds the archive for a hashed artifact and returns its path.
// The binary is re-hashed while it is copied, so a file modified after hashing
// is rejected instead of shipped under a stale digest. Any failure removes the
// partial archive and wraps nativelib.ErrPackaging.
func (p *Packager) Package(
	ctx context.Context,
	artifact nativelib.Artifact,
	version string,
	architecture string,
	packageName string,
) (string, error) {
	if err := os.MkdirAll(p.WorkDir, workDirMode); err != nil {
		return "", fmt.Errorf("%w: create work dir: %w", nativelib.ErrPackaging, err)
	}

	source, err := os.Open(filepath.Clean(artifact.Path))
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", nativelib.ErrPackaging, artifact.Path, err)
	}

	defer func() {
		_ = source.Close()
	}()

	finalPath := filepath.Join(p.WorkDir, Name(packageName, version, artifact.Digest, architecture))

	temporary, err := os.CreateTemp(p.WorkDir, filepath.Base(finalPath)+".*.partial")
	if err != nil {
		return "", fmt.Errorf("%w: create archive: %w", nativelib.ErrPackaging, err)
	}

	record := nativelib.Record{
		Version:      version,
		Digest:       artifact.Digest,
		Size:         artifact.Size,
		FileName:     artifact.FileName(),
		PackageName:  packageName,
		CreateTime:   p.now().UnixMilli(),
		Architecture: architecture,
	}

	if p.Algorithm != "" && p.Algorithm != digest.MD5 {
		record.Algorithm = p.Algorithm.String()
	}

	if err = p.write(temporary, source, record); err != nil {
		_ = temporary.Close()
		_ = os.Remove(temporary.Name())

		return "", fmt.Errorf("%w: %s: %w", nativelib.ErrPackaging, finalPath, err)
	}

	if err = os.Rename(temporary.Name(), finalPath); err != nil {
		_ = os.Remove(temporary.Name())

		return "", fmt.Errorf("%w: rename archive: %w", nativelib.ErrPackaging, err)
	}

	logger.InfoKV(ctx, "Archive created", "arch", architecture, "archive", finalPath)

	return finalPath, nil
}

// write streams the binary and the record into file and closes it.
func (p *Packager) write(file *os.File, source io.Reader, record nativelib.Record) error {
	hasher, err := p.Algorithm.New()
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(file)
	modified := time.UnixMilli(record.CreateTime)

	binaryEntry, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     record.FileName,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", record.FileName, err)
	}

	written, err := io.Copy(binaryEntry, io.TeeReader(source, hasher))
	if err != nil {
		return fmt.Errorf("copy %s: %w", record.FileName, err)
	}

	if written != record.Size || hex.EncodeToString(hasher.Sum(nil)) != record.Digest {
		return errSourceChanged
	}

	infoEntry, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     nativelib.PackageInfoFileName,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", nativelib.PackageInfoFileName, err)
	}

	if err = json.NewEncoder(infoEntry).Encode(record); err != nil {
		return fmt.Errorf("encode %s: %w", nativelib.PackageInfoFileName, err)
	}

	if err = zipWriter.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	if err = file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}

	return file.Close()
}

func (p *Packager) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}

	return time.Now()
}
