package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
)

// File modes of the assets tree.
const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

var (
	// errNoManifest is returned when Write receives nil.
	errNoManifest = errors.New("manifest is not set")
	// errNoFileName is returned when the target file name is empty.
	errNoFileName = errors.New("manifest file name is empty")
)

// Writer persists manifests under an assets directory.
type Writer struct {
	// AssetsDir is the bundled-resource root receiving manifest files.
	AssetsDir string
}

// NewWriter creates a writer rooted at assetsDir.
func NewWriter(assetsDir string) *Writer {
	return &Writer{
		AssetsDir: assetsDir,
	}
}

// Write serializes m as indented JSON to <AssetsDir>/<fileName>, replacing any
// previous file atomically. It returns the written path. Errors wrap ErrWrite.
func (w *Writer) Write(ctx context.Context, fileName string, m *nativelib.Manifest) (string, error) {
	if m == nil {
		return "", fmt.Errorf("%w: %w", nativelib.ErrWrite, errNoManifest)
	}

	if fileName == "" {
		return "", fmt.Errorf("%w: %w", nativelib.ErrWrite, errNoFileName)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", nativelib.ErrWrite, err)
	}

	data = append(data, '\n')
	path := filepath.Join(w.AssetsDir, fileName)

	if err = replaceFile(path, data); err != nil {
		return "", fmt.Errorf("%w: %s: %w", nativelib.ErrWrite, path, err)
	}

	logger.InfoKV(ctx, "Manifest written", "path", path, "architectures", len(m.Entries))

	return path, nil
}

// Read loads a manifest previously written by Write.
func Read(path string) (*nativelib.Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m nativelib.Manifest
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}

	return &m, nil
}

// replaceFile writes data next to path, syncs it and renames it over path.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	if _, err = temp.Write(data); err == nil {
		err = temp.Sync()
	}

	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tempPath, fileMode)
	}

	if err == nil {
		err = os.Rename(tempPath, path)
	}

	if err != nil {
		_ = os.Remove(tempPath)

		return err
	}

	return nil
}
