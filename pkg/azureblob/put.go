package azureblob

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/jacktea/azstore/pkg/storage"
	"github.com/jacktea/azstore/pkg/xerrors"
)

// put transfers src to id. Local files are sent straight from disk; other
// sources are sent from the reader, buffered when it cannot seek. Objects
// at or above the upload threshold are staged as blocks and committed.
func (s *Storage) put(ctx context.Context, src storage.Source, id string, headers blob.HTTPHeaders) error {
	if err := src.Validate(); err != nil {
		return xerrors.Wrap(xerrors.KindInvalid, "azureblob.put", id, err)
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	bb := c.NewBlockBlobClient(id)
	if d := s.cfg.uploadTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if src.Kind == storage.SourceLocalFile {
		return s.putFile(ctx, bb, src.Path, headers)
	}
	return s.putStream(ctx, bb, src.Reader, headers)
}

func (s *Storage) putFile(ctx context.Context, bb *blockblob.Client, path string, headers blob.HTTPHeaders) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if s.cfg.staged(info.Size()) {
		return s.stage(ctx, bb, f, "local-file", headers)
	}
	if _, err := bb.Upload(ctx, streaming.NopCloser(f), &blockblob.UploadOptions{HTTPHeaders: &headers}); err != nil {
		return err
	}
	logger(ctx).Debug().Str("blob", bb.URL()).Str("source", "local-file").Int64("bytes", info.Size()).Msg("azureblob upload")
	return nil
}

func (s *Storage) putStream(ctx context.Context, bb *blockblob.Client, r io.Reader, headers blob.HTTPHeaders) error {
	if limit := s.cfg.MultipartThreshold.Upload; limit > 0 {
		head, err := io.ReadAll(io.LimitReader(r, limit))
		if err != nil {
			return err
		}
		if int64(len(head)) >= limit {
			return s.stage(ctx, bb, io.MultiReader(bytes.NewReader(head), r), "stream", headers)
		}
		r = bytes.NewReader(head)
	}
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	if _, err := bb.Upload(ctx, streaming.NopCloser(body), &blockblob.UploadOptions{HTTPHeaders: &headers}); err != nil {
		return err
	}
	logger(ctx).Debug().Str("blob", bb.URL()).Str("source", "stream").Msg("azureblob upload")
	return nil
}

// stage uploads r in PartSize blocks and commits them in order. Blocks left
// uncommitted by a failed attempt are discarded by the service.
func (s *Storage) stage(ctx context.Context, bb *blockblob.Client, r io.Reader, source string, headers blob.HTTPHeaders) error {
	buf := make([]byte, s.cfg.partSize())
	var (
		ids   []string
		total int64
	)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if len(ids) == MaxBlocks {
				return xerrors.E(xerrors.KindInvalid, "azureblob.stage", fmt.Sprintf("more than %d blocks", MaxBlocks))
			}
			id := blockID(len(ids))
			if _, serr := bb.StageBlock(ctx, id, streaming.NopCloser(bytes.NewReader(buf[:n])), nil); serr != nil {
				return serr
			}
			ids = append(ids, id)
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if _, err := bb.CommitBlockList(ctx, ids, &blockblob.CommitBlockListOptions{HTTPHeaders: &headers}); err != nil {
		return err
	}
	logger(ctx).Debug().Str("blob", bb.URL()).Str("source", source).Int64("bytes", total).Int("blocks", len(ids)).Msg("azureblob staged upload")
	return nil
}

// blockID returns a fixed-width id; the service requires equal lengths
// within one blob.
func blockID(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%08d", n)))
}
