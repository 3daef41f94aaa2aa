// Package upload transfers archives to the storage endpoint.
//
// The endpoint accepts a multipart POST on /api/upload and answers with
// {"success": bool, "filename": string}. The retrieval locator is built from
// the reported filename as <base>/api/download/<filename>.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/version"
)

// Endpoint paths served by the storage server.
const (
	UploadPath   = "/api/upload"
	DownloadPath = "/api/download/"
	// FormField is the multipart field carrying the archive.
	FormField = "file"
)

// DefaultTimeout bounds a single upload when no client is supplied.
const DefaultTimeout = 60 * time.Second

// maxResponseSize caps the JSON answer read from the endpoint.
const maxResponseSize = 64 * 1024

var (
	errRejected      = errors.New("endpoint reported failure")
	errEmptyFilename = errors.New("endpoint returned empty filename")
)

// Response is the JSON body returned by the upload endpoint.
type Response struct {
	// Success is true when the archive was stored.
	Success bool `json:"success"`
	// Filename is the name under which the archive can be downloaded.
	Filename string `json:"filename"`
}

// Uploader posts archives to one storage endpoint.
type Uploader struct {
	// baseURL is the endpoint root, e.g. http://127.0.0.1:1234.
	baseURL *url.URL
	// client performs the requests; its Timeout bounds each upload.
	client *http.Client
}

// Option configures the uploader.
type Option func(*Uploader)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) {
		if client != nil {
			u.client = client
		}
	}
}

// WithTimeout sets the transport timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(u *Uploader) {
		if timeout > 0 {
			u.client.Timeout = timeout
		}
	}
}

// New creates an uploader for the endpoint at baseURL.
func New(baseURL string, opts ...Option) (*Uploader, error) {
	parsed, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upload URL: %w", err)
	}

	u := &Uploader{
		baseURL: parsed,
		client:  &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(u)
	}

	return u, nil
}

// DownloadURL returns the retrieval locator for a stored filename.
func (u *Uploader) DownloadURL(filename string) string {
	return resolve(u.baseURL, DownloadPath+filename)
}

// Upload sends the archive and returns its retrieval locator.
// Every failure (transport, non-2xx, unparseable body, success=false) wraps
// nativelib.ErrUpload and yields no locator.
func (u *Uploader) Upload(ctx context.Context, archivePath string) (string, error) {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", nativelib.ErrUpload, archivePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	endpoint := resolve(u.baseURL, UploadPath)

	body, form := io.Pipe()
	multipartForm := multipart.NewWriter(form)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", nativelib.ErrUpload, err)
	}

	req.Header.Set("Content-Type", multipartForm.FormDataContentType())
	req.Header.Set("User-Agent", version.UserAgent())

	// Started only after the request owns the pipe; the transport closes it on every path.
	go writeMultipart(multipartForm, form, file, filepath.Base(archivePath))

	logger.DebugKV(ctx, "Uploading archive", "endpoint", endpoint, "archive", archivePath)

	response, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", nativelib.ErrUpload, endpoint, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: %s: unexpected status %s", nativelib.ErrUpload, endpoint, response.Status)
	}

	var result Response
	if err = json.NewDecoder(io.LimitReader(response.Body, maxResponseSize)).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", nativelib.ErrUpload, err)
	}

	if !result.Success {
		return "", fmt.Errorf("%w: %w", nativelib.ErrUpload, errRejected)
	}

	if result.Filename == "" {
		return "", fmt.Errorf("%w: %w", nativelib.ErrUpload, errEmptyFilename)
	}

	return u.DownloadURL(result.Filename), nil
}

// writeMultipart streams the archive as the single form part into the pipe.
func writeMultipart(form *multipart.Writer, pipe *io.PipeWriter, file io.Reader, filename string) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, filename))
	header.Set("Content-Type", archive.ContentType)

	part, err := form.CreatePart(header)
	if err == nil {
		_, err = io.Copy(part, file)
	}

	if err == nil {
		err = form.Close()
	}

	_ = pipe.CloseWithError(err)
}

// resolve joins an endpoint path onto the base URL path.
func resolve(base *url.URL, endpoint string) string {
	resolved := *base
	resolved.RawPath = ""
	resolved.Path = path.Join("/", base.Path, endpoint)

	if endpoint != "" && endpoint[len(endpoint)-1] == '/' {
		resolved.Path += "/"
	}

	return resolved.String()
}
