package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/dynaso/internal/config"
)

// Index maps a library type to its hosted keys and their download locators.
type Index map[string]map[string]string

// Repository defines persistence operations for the registry index.
type Repository interface {
	Load(ctx context.Context) (Index, error)
	Save(ctx context.Context, index Index) error
}

// FileRepository persists the registry index to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) so the file
// shares the Struct shape of the registry wire messages.
type FileRepository struct {
	// path is the filesystem location of the JSON index file.
	path string
	// mu protects concurrent access to the index file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the index file does not exist yet.
	ErrNotFound = errors.New("registry index not found")
	// errMalformedIndex is returned when a stored value has an unexpected shape.
	errMalformedIndex = errors.New("malformed registry index")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the index from disk.
func (r *FileRepository) Load(_ context.Context) (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read index file: %w", err)
	}

	var protoIndex structpb.Struct
	if err = protojson.Unmarshal(contents, &protoIndex); err != nil {
		return nil, fmt.Errorf("decode index file: %w", err)
	}

	return fromProto(&protoIndex)
}

// Save replaces the index file with the provided index.
func (r *FileRepository) Save(_ context.Context, index Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoIndex, err := toProto(index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
	}

	data, err := marshalOptions.Marshal(protoIndex)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err = writeAtomically(r.path, data); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}

	return nil
}

// writeAtomically replaces path with data through a sibling temporary file.
func writeAtomically(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd // Standard directory mode.
		return err
	}

	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
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
		err = os.Chmod(tempPath, config.DefaultFilePermissions)
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

// fromProto converts the stored Struct into the index.
func fromProto(protoIndex *structpb.Struct) (Index, error) {
	index := make(Index, len(protoIndex.GetFields()))

	for libraryType, value := range protoIndex.GetFields() {
		keys := value.GetStructValue()
		if keys == nil {
			return nil, fmt.Errorf("%w: %s is not an object", errMalformedIndex, libraryType)
		}

		entries := make(map[string]string, len(keys.GetFields()))

		for key, locator := range keys.GetFields() {
			if _, ok := locator.GetKind().(*structpb.Value_StringValue); !ok {
				return nil, fmt.Errorf("%w: %s/%s is not a string", errMalformedIndex, libraryType, key)
			}

			entries[key] = locator.GetStringValue()
		}

		index[libraryType] = entries
	}

	return index, nil
}

// toProto converts the index into a Struct.
func toProto(index Index) (*structpb.Struct, error) {
	fields := make(map[string]any, len(index))

	for libraryType, entries := range index {
		keys := make(map[string]any, len(entries))
		for key, locator := range entries {
			keys[key] = locator
		}

		fields[libraryType] = keys
	}

	return structpb.NewStruct(fields)
}
