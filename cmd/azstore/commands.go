package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacktea/azstore/pkg/filesystem"
	"github.com/jacktea/azstore/pkg/server/httpapi"
	"github.com/jacktea/azstore/pkg/server/middleware"
	"github.com/jacktea/azstore/pkg/storage"
)

func newPutCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put <file|-> [id]",
		Short: "Upload a file (or stdin) and print its id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			id, n, err := doPut(application.ctx, application.backend, args[0], id, contentType, cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, humanize.IBytes(uint64(n)))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "mime type (default guessed from the file extension)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Download an object to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int64
			var err error
			if output != "" && output != "-" {
				n, err = doGetFile(application.ctx, application.backend, args[0], output)
			} else {
				n, err = doGet(application.ctx, application.backend, args[0], cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}
			application.log.Info().Str("id", args[0]).Str("size", humanize.IBytes(uint64(n))).Msg("downloaded")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return application.backend.Delete(application.ctx, args[0])
		},
	}
}

func newURLCmd() *cobra.Command {
	var scheme string
	cmd := &cobra.Command{
		Use:   "url <id>",
		Short: "Print the public URL of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := application.backend.URL(application.ctx, args[0], storage.URLOptions{Scheme: scheme})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "", `"http" to downgrade https URLs`)
	return cmd
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <id>",
		Short: "Report whether an object exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := application.backend.Exists(application.ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <cache-id> [id]",
		Short: "Copy an object from the local cache into the configured backend",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := filesystem.New(viper.GetString("cache_root"), filesystem.Options{})
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			promoted, err := doPromote(application.ctx, cache, application.backend, args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), promoted.ID)
			return nil
		},
	}
}

func newServeHTTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-http",
		Short: "Expose the backend over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := httpServeOptions{
				Addr:       viper.GetString("serve_http.addr"),
				APIKey:     viper.GetString("serve_http.api_key"),
				RateLimit:  viper.GetInt("serve_http.rate_limit"),
				RateWindow: viper.GetDuration("serve_http.rate_window"),
			}
			return runServeHTTP(application.ctx, application, opts)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key or Bearer token)")
	cmd.Flags().Int("rate-limit", 0, "requests allowed per rate window (0 disables)")
	cmd.Flags().Duration("rate-window", time.Second, "rate limit window")
	bindConfig("serve_http.addr", cmd.Flags().Lookup("addr"))
	bindConfig("serve_http.api_key", cmd.Flags().Lookup("api-key"))
	bindConfig("serve_http.rate_limit", cmd.Flags().Lookup("rate-limit"))
	bindConfig("serve_http.rate_window", cmd.Flags().Lookup("rate-window"))
	return cmd
}

type httpServeOptions struct {
	Addr       string
	APIKey     string
	RateLimit  int
	RateWindow time.Duration
}

func runServeHTTP(ctx context.Context, a *app, opt httpServeOptions) error {
	httpOpts := httpapi.Options{APIKey: opt.APIKey}
	if opt.RateLimit > 0 {
		httpOpts.RateLimit = middleware.RateLimitOptions{
			Requests: opt.RateLimit,
			Window:   opt.RateWindow,
		}
	}
	log := a.log
	server := &httpapi.Server{Storage: a.backend, Log: &log, Opts: httpOpts}
	return server.Start(ctx, opt.Addr)
}

// doPut uploads src ("-" for r) and returns the id used and the byte count.
func doPut(ctx context.Context, backend storage.Storage, src, id, contentType string, r io.Reader) (string, int64, error) {
	meta := storage.Metadata{}
	if src == "-" {
		if id == "" {
			id = uuid.NewString()
		}
		cr := &countingReader{r: r}
		if err := backend.Upload(ctx, storage.SourceOf(cr), id, storage.UploadOptions{Metadata: withType(meta, contentType, id)}); err != nil {
			return "", 0, err
		}
		return id, cr.n, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if id == "" {
		id = uuid.NewString() + filepath.Ext(src)
	}
	meta[storage.MetaFilename] = filepath.Base(src)
	meta[storage.MetaSize] = info.Size()
	if err := backend.Upload(ctx, storage.SourceOf(f), id, storage.UploadOptions{Metadata: withType(meta, contentType, src)}); err != nil {
		return "", 0, err
	}
	return id, info.Size(), nil
}

func withType(meta storage.Metadata, contentType, name string) storage.Metadata {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType != "" {
		meta[storage.MetaMimeType] = contentType
	}
	return meta
}

func doGet(ctx context.Context, backend storage.Storage, id string, w io.Writer) (int64, error) {
	rc, err := backend.Open(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// doGetFile downloads id into path. A failed download leaves no file behind.
func doGetFile(ctx context.Context, backend storage.Storage, id, path string) (n int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return doGet(ctx, backend, id, f)
}

func doPromote(ctx context.Context, cache storage.Storage, dst storage.Storage, cacheID, id string) (*storage.UploadedFile, error) {
	meta := withType(storage.Metadata{storage.MetaFilename: filepath.Base(cacheID)}, "", cacheID)
	file := &storage.UploadedFile{ID: cacheID, Storage: cache, Metadata: meta}
	return storage.Promote(ctx, file, dst, id)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
