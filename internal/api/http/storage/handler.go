package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/transport/upload"
)

// Route patterns served by the handler.
const (
	UploadPattern   = http.MethodPost + " " + upload.UploadPath
	DownloadPattern = http.MethodGet + " " + upload.DownloadPath + "{filename}"
)

// DefaultMaxUploadSize bounds an upload when no limit is configured.
const DefaultMaxUploadSize int64 = 512 << 20

var (
	// ErrRejected marks uploads refused because of their content or name.
	ErrRejected = errors.New("upload rejected")
	// ErrNotFound marks downloads of unknown files.
	ErrNotFound = errors.New("file not found")
	// errNoFilePart is returned when the multipart body lacks the file field.
	errNoFilePart = errors.New("multipart body has no file part")
)

// Service abstracts archive storage behind the endpoints.
type Service interface {
	// Store saves body under filename and returns the stored name. baseURL is
	// the public root used to build download locators.
	Store(ctx context.Context, filename string, body io.Reader, baseURL string) (string, error)
	// Open returns the stored file for reading.
	Open(ctx context.Context, filename string) (*os.File, error)
}

// Handler serves the upload and download endpoints.
type Handler struct {
	// service persists and serves archives.
	service Service
	// maxUploadSize bounds the request body of an upload.
	maxUploadSize int64
	// publicURL overrides the base URL derived from requests.
	publicURL string
}

// Option configures the handler.
type Option func(*Handler)

// WithMaxUploadSize bounds upload request bodies.
func WithMaxUploadSize(size int64) Option {
	return func(h *Handler) {
		if size > 0 {
			h.maxUploadSize = size
		}
	}
}

// WithPublicURL fixes the base URL advertised in download locators.
func WithPublicURL(publicURL string) Option {
	return func(h *Handler) {
		h.publicURL = strings.TrimRight(publicURL, "/")
	}
}

// NewHandler wires service into HTTP endpoints.
func NewHandler(service Service, opts ...Option) *Handler {
	h := &Handler{
		service:       service,
		maxUploadSize: DefaultMaxUploadSize,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register adds the endpoints to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(UploadPattern, h.upload)
	mux.HandleFunc(DownloadPattern, h.download)
}

// upload streams the file part into the service.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "storage")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	reader, err := r.MultipartReader()
	if err != nil {
		h.reject(ctx, w, http.StatusBadRequest, err)

		return
	}

	for {
		part, partErr := reader.NextPart()
		if errors.Is(partErr, io.EOF) {
			h.reject(ctx, w, http.StatusBadRequest, errNoFilePart)

			return
		}

		if partErr != nil {
			h.reject(ctx, w, statusFor(partErr), partErr)

			return
		}

		if part.FormName() != upload.FormField {
			_ = part.Close()

			continue
		}

		stored, storeErr := h.service.Store(ctx, part.FileName(), part, h.baseURL(r))
		_ = part.Close()

		if storeErr != nil {
			h.reject(ctx, w, statusFor(storeErr), storeErr)

			return
		}

		logger.InfoKV(ctx, "Archive stored", "filename", stored, "remote", r.RemoteAddr)
		writeJSON(ctx, w, http.StatusOK, upload.Response{Success: true, Filename: stored})

		return
	}
}

// download serves a stored archive.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "storage")
	filename := r.PathValue("filename")

	file, err := h.service.Open(ctx, filename)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRejected) {
			http.NotFound(w, r)

			return
		}

		logger.ErrorKV(ctx, "Failed to open archive", "filename", filename, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", archive.ContentType)
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// baseURL returns the public root of this server as seen by the client.
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host
}

func (h *Handler) reject(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger.WarnKV(ctx, "Upload rejected", "status", status, "error", err)
	writeJSON(ctx, w, status, upload.Response{Success: false})
}

func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrRejected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, response upload.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.WarnKV(ctx, "Failed to write response", "error", err)
	}
}
