package filesystem

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jacktea/azstore/pkg/storage"
	"github.com/jacktea/azstore/pkg/xerrors"
)

// Storage persists objects as plain files below a root directory.
type Storage struct {
	root string
	host string
}

// Options tune URL generation.
type Options struct {
	// Host, when set, is prepended to ids by URL instead of a file:// URL.
	Host string
}

// New returns a Storage rooted at root.
func New(root string, opts Options) (*Storage, error) {
	if root == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "filesystem.New", "root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "filesystem.New", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "filesystem.mkdir", abs, err)
	}
	return &Storage{root: abs, host: strings.TrimSuffix(opts.Host, "/")}, nil
}

// Upload writes src to the file for id, replacing any previous content.
func (s *Storage) Upload(ctx context.Context, src storage.Source, id string, opts storage.UploadOptions) error {
	if err := src.Validate(); err != nil {
		return xerrors.Wrap(xerrors.KindInvalid, "filesystem.Upload", id, err)
	}
	finalPath, err := s.pathFor(id)
	if err != nil {
		return err
	}
	r := src.Reader
	if src.Kind == storage.SourceLocalFile {
		f, err := os.Open(src.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return err
	}
	file, err := os.CreateTemp(filepath.Dir(finalPath), ".upload-*")
	if err != nil {
		return err
	}
	tmpName := file.Name()
	n, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		os.Remove(tmpName)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpName)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("id", id).Str("source", src.Kind.String()).Int64("bytes", n).Msg("filesystem upload")
	return nil
}

// Open returns the file for id.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	p, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes the file for id. Missing files are not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	p, err := s.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a file is stored for id.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	p, err := s.pathFor(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URL returns host/id when a host is configured, otherwise a file:// URL.
func (s *Storage) URL(ctx context.Context, id string, opts storage.URLOptions) (string, error) {
	p, err := s.pathFor(id)
	if err != nil {
		return "", err
	}
	if s.host == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
	}
	u := s.host + "/" + (&url.URL{Path: cleanID(id)}).EscapedPath()
	if opts.Scheme == "http" {
		u = strings.Replace(u, "https:", "http:", 1)
	}
	return u, nil
}

// Path returns the absolute location of id on disk.
func (s *Storage) Path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(cleanID(id)))
}

func (s *Storage) pathFor(id string) (string, error) {
	if cleanID(id) == "" {
		return "", xerrors.E(xerrors.KindInvalid, "filesystem", "empty id")
	}
	return s.Path(id), nil
}

// cleanID confines id below the root.
func cleanID(id string) string {
	return strings.TrimPrefix(path.Clean("/"+id), "/")
}
