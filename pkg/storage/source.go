package storage

import (
	"fmt"
	"io"
	"os"
)

// SourceKind tags the variant held by a Source.
type SourceKind int

const (
	// SourceStream is a plain reader with no filesystem identity.
	SourceStream SourceKind = iota
	// SourceLocalFile is a file readable by this process at Path.
	SourceLocalFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceLocalFile:
		return "local-file"
	default:
		return "stream"
	}
}

// Source is the input of an upload. It is resolved once, where the caller
// hands its data over, so backends only switch on Kind.
type Source struct {
	Kind   SourceKind
	Path   string
	Reader io.Reader
}

// LocalFile returns a Source backed by the file at path.
func LocalFile(path string) Source {
	return Source{Kind: SourceLocalFile, Path: path}
}

// Stream returns a Source backed by r.
func Stream(r io.Reader) Source {
	return Source{Kind: SourceStream, Reader: r}
}

// SourceOf resolves r into a Source. Named files become LocalFile sources;
// every other reader is a Stream.
func SourceOf(r io.Reader) Source {
	switch v := r.(type) {
	case *os.File:
		if v != os.Stdin && v.Name() != "" {
			if info, err := v.Stat(); err == nil && info.Mode().IsRegular() {
				return LocalFile(v.Name())
			}
		}
	case *UploadedFile:
		if src, ok := v.localSource(); ok {
			return src
		}
	}
	return Stream(r)
}

// Validate reports whether the variant carries the field its Kind requires.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceLocalFile:
		if s.Path == "" {
			return fmt.Errorf("storage: local file source without path")
		}
	case SourceStream:
		if s.Reader == nil {
			return fmt.Errorf("storage: stream source without reader")
		}
	default:
		return fmt.Errorf("storage: unknown source kind %d", s.Kind)
	}
	return nil
}
