package storage

import (
	"context"
	"fmt"
	"io"
)

// UploadedFile is an object persisted in some Storage, as tracked by the
// attachment layer.
type UploadedFile struct {
	ID       string
	Storage  Storage
	Metadata Metadata

	rc io.ReadCloser
}

// Source resolves the file into an upload Source. Files held by a backend
// that exposes local paths become LocalFile sources; others are streamed
// through Read.
func (f *UploadedFile) Source() Source {
	if src, ok := f.localSource(); ok {
		return src
	}
	return Stream(f)
}

func (f *UploadedFile) localSource() (Source, bool) {
	if f == nil || f.Storage == nil {
		return Source{}, false
	}
	resolver, ok := f.Storage.(PathResolver)
	if !ok {
		return Source{}, false
	}
	return LocalFile(resolver.Path(f.ID)), true
}

// Read lazily opens the file in its storage and reads from it.
func (f *UploadedFile) Read(p []byte) (int, error) {
	if f.rc == nil {
		if f.Storage == nil {
			return 0, fmt.Errorf("storage: uploaded file %q has no storage", f.ID)
		}
		rc, err := f.Storage.Open(context.Background(), f.ID)
		if err != nil {
			return 0, err
		}
		f.rc = rc
	}
	return f.rc.Read(p)
}

// Close releases the reader opened by Read, if any.
func (f *UploadedFile) Close() error {
	if f.rc == nil {
		return nil
	}
	err := f.rc.Close()
	f.rc = nil
	return err
}

// Promote copies file into dst under id, carrying its metadata, and returns
// the new UploadedFile. The source object is left in place.
func Promote(ctx context.Context, file *UploadedFile, dst Storage, id string) (*UploadedFile, error) {
	if file == nil || dst == nil {
		return nil, fmt.Errorf("storage: promote requires a file and a destination")
	}
	if file.Storage == nil {
		return nil, fmt.Errorf("storage: uploaded file %q has no storage", file.ID)
	}
	if id == "" {
		id = file.ID
	}
	src := file.Source()
	if src.Kind == SourceStream {
		rc, err := file.Storage.Open(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		src = Stream(rc)
	}
	if err := dst.Upload(ctx, src, id, UploadOptions{Metadata: file.Metadata}); err != nil {
		return nil, err
	}
	return &UploadedFile{ID: id, Storage: dst, Metadata: file.Metadata}, nil
}
