package storage

import (
	"context"
	"io"
)

// Storage is the capability set a backend offers to the attachment layer.
type Storage interface {
	Upload(ctx context.Context, src Source, id string, opts UploadOptions) error
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	URL(ctx context.Context, id string, opts URLOptions) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// PathResolver is implemented by backends whose objects live on local disk.
type PathResolver interface {
	Path(id string) string
}

// UploadOptions carries the attachment metadata alongside an upload.
type UploadOptions struct {
	Metadata Metadata
}

// URLOptions tunes URL generation.
type URLOptions struct {
	// Scheme "http" downgrades an https URL; other values are ignored.
	Scheme string
}

// Well-known metadata keys.
const (
	MetaMimeType = "mime_type"
	MetaFilename = "filename"
	MetaSize     = "size"
)

// Metadata is the attachment metadata extracted by the host framework.
type Metadata map[string]any

// String returns the string value stored under key, if any.
func (m Metadata) String(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MimeType returns the mime_type entry.
func (m Metadata) MimeType() (string, bool) { return m.String(MetaMimeType) }

// Filename returns the filename entry.
func (m Metadata) Filename() (string, bool) { return m.String(MetaFilename) }
