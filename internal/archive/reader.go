package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

// maxRecordSize caps how much of package_info.json is read.
const maxRecordSize = 64 * 1024

var (
	// ErrInvalid reports an archive that does not match its package-info.
	ErrInvalid = errors.New("invalid archive")

	errSourceChanged = errors.New("binary changed since it was hashed")
)

// Inspect opens an archive and decodes its package-info record.
func Inspect(path string) (nativelib.Record, error) {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return nativelib.Record{}, fmt.Errorf("%w: open %s: %w", ErrInvalid, path, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	return readRecord(&reader.Reader)
}

// Verify checks that the archive holds exactly the binary and its record and
// that the binary matches the recorded digest and size.
func Verify(path string) (nativelib.Record, error) {
	record, _, err := Extract(path)

	return record, err
}

// Extract verifies the archive and returns the record with the binary content.
func Extract(path string) (nativelib.Record, []byte, error) {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return nativelib.Record{}, nil, fmt.Errorf("%w: open %s: %w", ErrInvalid, path, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	if len(reader.File) != 2 {
		return nativelib.Record{}, nil, fmt.Errorf("%w: %d entries, want 2", ErrInvalid, len(reader.File))
	}

	record, err := readRecord(&reader.Reader)
	if err != nil {
		return nativelib.Record{}, nil, err
	}

	content, err := readEntry(&reader.Reader, record.FileName, record.Size+1)
	if err != nil {
		return nativelib.Record{}, nil, err
	}

	algorithm, err := digest.Parse(record.Algorithm)
	if err != nil {
		return nativelib.Record{}, nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	sum, err := digest.HashReader(bytes.NewReader(content), algorithm)
	if err != nil {
		return nativelib.Record{}, nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if sum.Size != record.Size {
		return nativelib.Record{}, nil, fmt.Errorf("%w: size %d, recorded %d", ErrInvalid, sum.Size, record.Size)
	}

	if sum.Hex != record.Digest {
		return nativelib.Record{}, nil, fmt.Errorf("%w: digest %s, recorded %s", ErrInvalid, sum.Hex, record.Digest)
	}

	return record, content, nil
}

func readRecord(reader *zip.Reader) (nativelib.Record, error) {
	data, err := readEntry(reader, nativelib.PackageInfoFileName, maxRecordSize)
	if err != nil {
		return nativelib.Record{}, err
	}

	var record nativelib.Record
	if err = json.Unmarshal(data, &record); err != nil {
		return nativelib.Record{}, fmt.Errorf("%w: decode %s: %w", ErrInvalid, nativelib.PackageInfoFileName, err)
	}

	if record.FileName == "" || record.PackageName == "" || record.Digest == "" {
		return nativelib.Record{}, fmt.Errorf("%w: incomplete %s", ErrInvalid, nativelib.PackageInfoFileName)
	}

	return record, nil
}

// readEntry reads at most limit bytes of the named entry.
func readEntry(reader *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}

		entry, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrInvalid, name, err)
		}

		data, err := io.ReadAll(io.LimitReader(entry, limit))
		_ = entry.Close()

		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, name, err)
		}

		return data, nil
	}

	return nil, fmt.Errorf("%w: missing entry %s", ErrInvalid, name)
}
