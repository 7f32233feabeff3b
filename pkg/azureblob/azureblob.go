// Package azureblob stores attachment objects in an Azure Blob Storage
// container.
//
// Every call builds its own client from the immutable Config, so a Storage
// is safe for concurrent use and holds no connections between calls. The SDK
// retry policy is disabled: transport errors reach the caller unchanged and
// can be inspected with errors.As against *azcore.ResponseError or with
// bloberror.HasCode.
package azureblob

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"

	"github.com/jacktea/azstore/pkg/contentdisposition"
	"github.com/jacktea/azstore/pkg/storage"
	"github.com/jacktea/azstore/pkg/xerrors"
)

// Storage is a storage.Storage backed by one blob container.
type Storage struct {
	cfg Config
}

var _ storage.Storage = (*Storage)(nil)

// New returns a Storage for cfg.
func New(cfg Config) *Storage {
	return &Storage{cfg: cfg}
}

// Config returns the configuration the Storage was built with.
func (s *Storage) Config() Config {
	return s.cfg
}

// Upload stores src under id. The mime_type and filename metadata entries
// become the blob's content type and inline content disposition.
func (s *Storage) Upload(ctx context.Context, src storage.Source, id string, opts storage.UploadOptions) error {
	var headers blob.HTTPHeaders
	if ct, ok := opts.Metadata.MimeType(); ok {
		headers.BlobContentType = &ct
	}
	if name, ok := opts.Metadata.Filename(); ok {
		cd := contentdisposition.Inline(name)
		headers.BlobContentDisposition = &cd
	}
	return s.put(ctx, src, id, headers)
}

// Open streams the content of id. The caller must close the reader.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	resp, err := c.NewBlobClient(id).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes id. Deleting a missing blob returns the service's
// BlobNotFound error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	_, err = c.NewBlobClient(id).Delete(ctx, nil)
	return err
}

// Exists reports whether id is stored.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	c, err := s.client()
	if err != nil {
		return false, err
	}
	_, err = c.NewBlobClient(id).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, err
}

// URL returns the canonical, unsigned URL of id. Scheme "http" swaps the
// https: prefix for http:. No request is made.
func (s *Storage) URL(ctx context.Context, id string, opts storage.URLOptions) (string, error) {
	c, err := s.client()
	if err != nil {
		return "", err
	}
	u := strings.TrimSuffix(c.URL(), "/") + "/" + (&url.URL{Path: id}).EscapedPath()
	if opts.Scheme == "http" {
		u = strings.Replace(u, "https:", "http:", 1)
	}
	return u, nil
}

// client builds a call-scoped container client.
func (s *Storage) client() (*container.Client, error) {
	switch {
	case s.cfg.AccountName == "":
		return nil, xerrors.E(xerrors.KindInvalid, "azureblob.client", "account_name")
	case s.cfg.AccessKey == "":
		return nil, xerrors.E(xerrors.KindInvalid, "azureblob.client", "access_key")
	case s.cfg.Container == "":
		return nil, xerrors.E(xerrors.KindInvalid, "azureblob.client", "container")
	}
	cred, err := azblob.NewSharedKeyCredential(s.cfg.AccountName, s.cfg.AccessKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "azureblob.credential", "access_key", err)
	}
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}
	if s.cfg.Transport != nil {
		opts.Transport = s.cfg.Transport
	}
	client, err := azblob.NewClientWithSharedKeyCredential(s.cfg.serviceURL(), cred, opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "azureblob.client", s.cfg.serviceURL(), err)
	}
	return client.ServiceClient().NewContainerClient(s.cfg.Container), nil
}

func logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
