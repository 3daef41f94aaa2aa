package digest

import (
	"crypto"
	"crypto/md5" //nolint:gosec // Integrity and dedup only; the runtime loader verifies md5.
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

// Algorithm names a supported digest function.
type Algorithm string

// Supported algorithms. MD5 is what the runtime loader checks by default.
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// chunkSize is the read buffer used while streaming a file through the hash.
const chunkSize = 32 * 1024

var errUnknownAlgorithm = errors.New("unknown digest algorithm")

// Sum is the digest of a file together with the number of bytes hashed.
type Sum struct {
	// Hex is the lowercase hexadecimal digest.
	Hex string
	// Size is the number of bytes read.
	Size int64
}

// Parse validates an algorithm name. An empty name selects MD5.
func Parse(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "":
		return MD5, nil
	case MD5, SHA256, BLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownAlgorithm, name)
	}
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5, "":
		return md5.New(), nil //nolint:gosec // See import comment.
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAlgorithm, string(a))
	}
}

// CryptoHash maps the algorithm onto crypto.Hash when the standard registry knows it.
// BLAKE3 has no crypto.Hash value.
func (a Algorithm) CryptoHash() (crypto.Hash, bool) {
	switch a {
	case MD5, "":
		return crypto.MD5, true
	case SHA256:
		return crypto.SHA256, true
	default:
		return 0, false
	}
}

// String returns the algorithm name.
func (a Algorithm) String() string {
	if a == "" {
		return string(MD5)
	}

	return string(a)
}

// HashReader streams r through the algorithm.
func HashReader(r io.Reader, algorithm Algorithm) (Sum, error) {
	hasher, err := algorithm.New()
	if err != nil {
		return Sum{}, err
	}

	buffer := make([]byte, chunkSize)

	size, err := io.CopyBuffer(hasher, r, buffer)
	if err != nil {
		return Sum{}, err
	}

	return Sum{
		Hex:  hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
	}, nil
}

// HashFile computes the digest of the file at path.
// Read failures wrap nativelib.ErrHash.
func HashFile(path string, algorithm Algorithm) (Sum, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Sum{}, fmt.Errorf("%w: open %s: %w", nativelib.ErrHash, path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	sum, err := HashReader(file, algorithm)
	if err != nil {
		return Sum{}, fmt.Errorf("%w: read %s: %w", nativelib.ErrHash, path, err)
	}

	return sum, nil
}
