package digest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

// TestHashFile_KnownVectors pins the output of each algorithm for a known input.
func TestHashFile_KnownVectors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "libapp.so")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	sum, err := HashFile(path, MD5)
	require.NoError(t, err)
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", sum.Hex)
	require.Equal(t, int64(3), sum.Size)

	sum, err = HashFile(path, SHA256)
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum.Hex)

	sum, err = HashFile(path, BLAKE3)
	require.NoError(t, err)
	require.Equal(t, "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85", sum.Hex)
}

// TestHashFile_IgnoresMetadata ensures mtime and permissions do not change the digest.
func TestHashFile_IgnoresMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.so")
	second := filepath.Join(dir, "b.so")
	content := bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 50_000)

	require.NoError(t, os.WriteFile(first, content, 0o600))
	require.NoError(t, os.WriteFile(second, content, 0o755))
	require.NoError(t, os.Chtimes(second, time.Unix(0, 0), time.Unix(0, 0)))

	a, err := HashFile(first, MD5)
	require.NoError(t, err)

	b, err := HashFile(second, MD5)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, int64(len(content)), a.Size)
}

// TestHashFile_Missing wraps the read failure in ErrHash.
func TestHashFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := HashFile(filepath.Join(t.TempDir(), "gone.so"), MD5)
	require.ErrorIs(t, err, nativelib.ErrHash)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// failingReader returns data and then an error, like a file truncated mid-stream.
type failingReader struct {
	sent bool
}

var errMidStream = errors.New("device went away")

// Read emits one chunk and then fails.
func (f *failingReader) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errMidStream
	}

	f.sent = true

	return copy(p, "partial"), nil
}

// TestHashReader_MidStreamFailure surfaces errors raised after some bytes were read.
func TestHashReader_MidStreamFailure(t *testing.T) {
	t.Parallel()

	_, err := HashReader(&failingReader{}, SHA256)
	require.ErrorIs(t, err, errMidStream)
}

// TestParse accepts known names case-insensitively and defaults to md5.
func TestParse(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Algorithm{"": MD5, "MD5": MD5, "sha256": SHA256, " blake3 ": BLAKE3} {
		got, err := Parse(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := Parse("crc32")
	require.Error(t, err)

	_, ok := BLAKE3.CryptoHash()
	require.False(t, ok)
}

// TestHashReader_Properties checks determinism and distinctness over generated content.
func TestHashReader_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(r *rapid.T) {
		algorithm := rapid.SampledFrom([]Algorithm{MD5, SHA256, BLAKE3}).Draw(r, "algorithm")
		a := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(r, "a")
		b := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(r, "b")

		first, err := HashReader(bytes.NewReader(a), algorithm)
		if err != nil {
			r.Fatalf("hash a: %v", err)
		}

		again, err := HashReader(bytes.NewReader(a), algorithm)
		if err != nil {
			r.Fatalf("hash a again: %v", err)
		}

		if first != again {
			r.Fatalf("digest is not deterministic: %s != %s", first.Hex, again.Hex)
		}

		other, err := HashReader(bytes.NewReader(b), algorithm)
		if err != nil {
			r.Fatalf("hash b: %v", err)
		}

		if !bytes.Equal(a, b) && first.Hex == other.Hex {
			r.Fatalf("distinct inputs share digest %s", first.Hex)
		}
	})
}
