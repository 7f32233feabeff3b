package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jacktea/azstore/pkg/server/middleware"
	"github.com/jacktea/azstore/pkg/storage"
	"github.com/jacktea/azstore/pkg/xerrors"
)

// FilenameHeader carries the original filename of an uploaded object.
const FilenameHeader = "X-Filename"

// Server exposes a storage backend over a small HTTP API.
type Server struct {
	Storage storage.Storage
	Log     *zerolog.Logger
	Opts    Options
}

// Options configure auth and rate limiting.
type Options struct {
	APIKey    string
	RateLimit middleware.RateLimitOptions
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	log := s.logger()
	log.Info().Str("addr", addr).Msg("http gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	log := s.logger()
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(log), middleware.Recover(log))
	if auth := middleware.APIKeyAuth(s.Opts.APIKey); auth != nil {
		r.Use(auth)
	}
	if limit := middleware.RateLimit(s.Opts.RateLimit); limit != nil {
		r.Use(limit)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/objects", func(r chi.Router) {
		r.Put("/*", s.putObject)
		r.Get("/*", s.getObject)
		r.Head("/*", s.headObject)
		r.Delete("/*", s.deleteObject)
	})
	r.Get("/urls/*", s.objectURL)
	return r
}

func (s *Server) logger() zerolog.Logger {
	if s.Log == nil {
		return zerolog.Nop()
	}
	return *s.Log
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	meta := storage.Metadata{}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		meta[storage.MetaMimeType] = ct
	}
	if name := r.Header.Get(FilenameHeader); name != "" {
		meta[storage.MetaFilename] = name
	}
	if r.ContentLength >= 0 {
		meta[storage.MetaSize] = r.ContentLength
	}
	if err := s.Storage.Upload(r.Context(), storage.SourceOf(r.Body), id, storage.UploadOptions{Metadata: meta}); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	rc, err := s.Storage.Open(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("id", id).Msg("stream object")
	}
}

func (s *Server) headObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	exists, err := s.Storage.Exists(r.Context(), id)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	if err := s.Storage.Delete(r.Context(), id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) objectURL(w http.ResponseWriter, r *http.Request) {
	id, ok := objectID(w, r)
	if !ok {
		return
	}
	u, err := s.Storage.URL(r.Context(), id, storage.URLOptions{Scheme: r.URL.Query().Get("scheme")})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func objectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	id, err := url.PathUnescape(raw)
	if err != nil {
		id = raw
	}
	id = strings.TrimPrefix(id, "/")
	if id == "" {
		httpError(w, xerrors.E(xerrors.KindInvalid, "httpapi", "missing object id"))
		return "", false
	}
	return id, true
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = strings.ReplaceAll(xerrors.KindOf(err).String(), " ", "_")
	body.Error.Message = err.Error()
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindAlreadyExists:
		return http.StatusConflict
	case xerrors.KindPermission:
		return http.StatusForbidden
	case xerrors.KindInvalid:
		return http.StatusBadRequest
	case xerrors.KindNotSupported:
		return http.StatusNotImplemented
	case xerrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
