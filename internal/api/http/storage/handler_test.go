package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/dynaso/internal/transport/upload"
)

// memoryService stores uploads in a temporary directory.
type memoryService struct {
	mu       sync.Mutex
	dir      string
	baseURLs []string
	reject   bool
}

func (m *memoryService) Store(_ context.Context, filename string, body io.Reader, baseURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseURLs = append(m.baseURLs, baseURL)

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	if m.reject {
		return "", fmt.Errorf("%w: not an archive", ErrRejected)
	}

	name := filepath.Base(filename)

	return name, os.WriteFile(filepath.Join(m.dir, name), data, 0o600)
}

func (m *memoryService) Open(_ context.Context, filename string) (*os.File, error) {
	file, err := os.Open(filepath.Join(m.dir, filepath.Base(filename)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	return file, err
}

func newTestServer(t *testing.T, service Service, opts ...Option) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	NewHandler(service, opts...).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func multipartRequest(t *testing.T, url, field, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("comment", "ignored"))

	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)

	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+upload.UploadPath, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

func decode(t *testing.T, response *http.Response) upload.Response {
	t.Helper()

	defer response.Body.Close()

	var result upload.Response
	require.NoError(t, json.NewDecoder(response.Body).Decode(&result))

	return result
}

// TestHandler_UploadThenDownload stores a file and serves it back.
func TestHandler_UploadThenDownload(t *testing.T) {
	t.Parallel()

	service := &memoryService{dir: t.TempDir()}
	server := newTestServer(t, service)

	response, err := server.Client().Do(multipartRequest(t, server.URL, upload.FormField, "a.zip", []byte("zip bytes")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, upload.Response{Success: true, Filename: "a.zip"}, decode(t, response))
	require.Equal(t, []string{server.URL}, service.baseURLs)

	download, err := server.Client().Get(server.URL + upload.DownloadPath + "a.zip")
	require.NoError(t, err)

	defer download.Body.Close()

	require.Equal(t, http.StatusOK, download.StatusCode)
	require.Equal(t, "application/zip", download.Header.Get("Content-Type"))

	data, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	require.Equal(t, "zip bytes", string(data))
}

// TestHandler_PublicURL advertises the configured base URL.
func TestHandler_PublicURL(t *testing.T) {
	t.Parallel()

	service := &memoryService{dir: t.TempDir()}
	server := newTestServer(t, service, WithPublicURL("https://cdn.example.com/"))

	response, err := server.Client().Do(multipartRequest(t, server.URL, upload.FormField, "a.zip", []byte("x")))
	require.NoError(t, err)
	require.True(t, decode(t, response).Success)
	require.Equal(t, []string{"https://cdn.example.com"}, service.baseURLs)
}

// TestHandler_UploadFailures answers success=false with a matching status.
func TestHandler_UploadFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing file part", func(t *testing.T) {
		t.Parallel()

		server := newTestServer(t, &memoryService{dir: t.TempDir()})

		response, err := server.Client().Do(multipartRequest(t, server.URL, "other", "a.zip", []byte("x")))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, response.StatusCode)
		require.False(t, decode(t, response).Success)
	})

	t.Run("rejected content", func(t *testing.T) {
		t.Parallel()

		server := newTestServer(t, &memoryService{dir: t.TempDir(), reject: true})

		response, err := server.Client().Do(multipartRequest(t, server.URL, upload.FormField, "a.zip", []byte("x")))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, response.StatusCode)
		require.False(t, decode(t, response).Success)
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()

		server := newTestServer(t, &memoryService{dir: t.TempDir()}, WithMaxUploadSize(1024))

		response, err := server.Client().Do(
			multipartRequest(t, server.URL, upload.FormField, "a.zip", bytes.Repeat([]byte("x"), 8192)))
		require.NoError(t, err)
		require.Equal(t, http.StatusRequestEntityTooLarge, response.StatusCode)
		require.False(t, decode(t, response).Success)
	})

	t.Run("not multipart", func(t *testing.T) {
		t.Parallel()

		server := newTestServer(t, &memoryService{dir: t.TempDir()})

		response, err := server.Client().Post(server.URL+upload.UploadPath, "application/json", bytes.NewBufferString("{}"))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, response.StatusCode)
		require.False(t, decode(t, response).Success)
	})
}

// TestHandler_DownloadMissing answers 404.
func TestHandler_DownloadMissing(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &memoryService{dir: t.TempDir()})

	response, err := server.Client().Get(server.URL + upload.DownloadPath + "absent.zip")
	require.NoError(t, err)

	defer response.Body.Close()

	require.Equal(t, http.StatusNotFound, response.StatusCode)
}
