package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oshokin/dynaso/internal/api/http/storage"
	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
	repo "github.com/oshokin/dynaso/internal/repository/registry"
	"github.com/oshokin/dynaso/internal/transport/upload"
)

// storageDirMode is used when creating the storage directory.
const storageDirMode os.FileMode = 0o755

// service stores archives and keeps the registry index.
// It is unexported to keep the transports decoupled from the implementation.
type service struct {
	// storageDir holds the uploaded archives.
	storageDir string
	// repo handles persistent storage of the registry index.
	repo repo.Repository
	// index is the in-memory registry index.
	index repo.Index
	// mu protects the index.
	mu sync.RWMutex
}

// newService creates a service rooted at storageDir and backed by the provided repository.
func newService(ctx context.Context, storageDir string, repository repo.Repository) (*service, error) {
	if err := os.MkdirAll(storageDir, storageDirMode); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &service{
		storageDir: storageDir,
		repo:       repository,
		index:      make(repo.Index),
	}

	if repository == nil {
		return s, nil
	}

	index, err := repository.Load(ctx)
	switch {
	case err == nil:
		s.index = index
	case errors.Is(err, repo.ErrNotFound):
		// Keep the empty index.
	default:
		return nil, fmt.Errorf("load index: %w", err)
	}

	return s, nil
}

// Store writes body to the storage directory and registers the archive.
// Bodies that are not valid archives are removed and rejected.
func (s *service) Store(ctx context.Context, filename string, body io.Reader, baseURL string) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	temporary, err := os.CreateTemp(s.storageDir, "."+name+".*.upload")
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}

	if _, err = io.Copy(temporary, body); err == nil {
		err = temporary.Sync()
	}

	if closeErr := temporary.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(temporary.Name())

		return "", fmt.Errorf("write upload: %w", err)
	}

	record, err := archive.Verify(temporary.Name())
	if err != nil {
		_ = os.Remove(temporary.Name())

		return "", fmt.Errorf("%w: %w", storage.ErrRejected, err)
	}

	target := filepath.Join(s.storageDir, name)

	if err = os.Rename(temporary.Name(), target); err != nil {
		_ = os.Remove(temporary.Name())

		return "", fmt.Errorf("store upload: %w", err)
	}

	if err = s.register(ctx, record, strings.TrimRight(baseURL, "/")+upload.DownloadPath+name); err != nil {
		return "", err
	}

	return name, nil
}

// Open returns a stored archive.
func (s *service) Open(_ context.Context, filename string) (*os.File, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.storageDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}

	return file, err
}

// Lookup returns the locator registered for (libraryType, key).
func (s *service) Lookup(ctx context.Context, libraryType, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	url, found := s.index[libraryType][key]

	logger.DebugKV(ctx, "Registry lookup", "type", libraryType, "key", key, "found", found)

	return url, found, nil
}

// register records the archive's key and persists the index.
// Archives without an architecture cannot be keyed and are stored only.
func (s *service) register(ctx context.Context, record nativelib.Record, url string) error {
	if record.PackageName == "" || record.Architecture == "" {
		logger.WarnKV(ctx, "Archive stored without registration", "url", url)

		return nil
	}

	key := nativelib.RegistryKey(record.Version, record.Architecture, record.Digest)

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.index[record.PackageName]
	if !ok {
		keys = make(map[string]string)
		s.index[record.PackageName] = keys
	}

	previous, existed := keys[key]
	keys[key] = url

	if s.repo != nil {
		if err := s.repo.Save(ctx, s.index); err != nil {
			if existed {
				keys[key] = previous
			} else {
				delete(keys, key)
			}

			logger.Errorf(ctx, "Failed to persist registry index: %v", err)

			return fmt.Errorf("persist index: %w", err)
		}
	}

	logger.InfoKV(ctx, "Archive registered", "type", record.PackageName, "key", key, "url", url)

	return nil
}

// sanitizeFilename keeps the base name of an upload and requires the archive extension.
func sanitizeFilename(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))

	if name == "." || name == "/" || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, archive.Extension) {
		return "", fmt.Errorf("%w: bad filename %q", storage.ErrRejected, filename)
	}

	return name, nil
}
