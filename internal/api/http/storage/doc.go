// Package storage exposes the archive upload and download endpoints.
//
// Uploads are multipart POST requests carrying the archive in the "file"
// field; the response reports the stored filename, which the download
// endpoint serves back.
package storage
