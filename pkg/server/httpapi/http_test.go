package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/azstore/pkg/azureblob"
	"github.com/jacktea/azstore/pkg/blobtest"
	"github.com/jacktea/azstore/pkg/filesystem"
	"github.com/jacktea/azstore/pkg/server/middleware"
)

func newFilesystemServer(t *testing.T, opts Options) http.Handler {
	t.Helper()
	backend, err := filesystem.New(t.TempDir(), filesystem.Options{Host: "https://cdn.example.com"})
	require.NoError(t, err)
	srv := &Server{Storage: backend, Opts: opts}
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHTTPAPIPutAndGet(t *testing.T) {
	h := newFilesystemServer(t, Options{})
	rr := do(t, h, http.MethodPut, "/objects/docs/test.txt", bytes.NewBufferString("hello"), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.Equal(t, "docs/test.txt", created["id"])

	rr = do(t, h, http.MethodGet, "/objects/docs/test.txt", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())

	rr = do(t, h, http.MethodHead, "/objects/docs/test.txt", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHTTPAPIDeleteThenMissing(t *testing.T) {
	h := newFilesystemServer(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/objects/a.bin", bytes.NewBufferString("x"), nil).Code)
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/objects/a.bin", nil, nil).Code)

	rr := do(t, h, http.MethodGet, "/objects/a.bin", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodHead, "/objects/a.bin", nil, nil).Code)
}

func TestHTTPAPIURL(t *testing.T) {
	h := newFilesystemServer(t, Options{})
	rr := do(t, h, http.MethodGet, "/urls/img/cat.png", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "https://cdn.example.com/img/cat.png", resp["url"])

	rr = do(t, h, http.MethodGet, "/urls/img/cat.png?scheme=http", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "http://cdn.example.com/img/cat.png", resp["url"])
}

func TestHTTPAPIMissingID(t *testing.T) {
	h := newFilesystemServer(t, Options{})
	rr := do(t, h, http.MethodGet, "/urls/", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTPAPIAuthMiddleware(t *testing.T) {
	h := newFilesystemServer(t, Options{APIKey: "secret"})
	rr := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, http.MethodGet, "/healthz", nil, http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHTTPAPIRateLimit(t *testing.T) {
	now := time.Unix(0, 0)
	h := newFilesystemServer(t, Options{
		RateLimit: middleware.RateLimitOptions{
			Requests: 1,
			Window:   time.Second,
			Now:      func() time.Time { return now },
		},
	})
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/healthz", nil, nil).Code)
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestHTTPAPIAzureBackend(t *testing.T) {
	fake := blobtest.NewServer(t)
	fake.CreateContainer("attachments")
	backend := azureblob.New(azureblob.Config{
		AccountName: blobtest.Account,
		AccessKey:   blobtest.Key,
		Container:   "attachments",
		ServiceURL:  fake.ServiceURL(),
		Transport:   fake.Client(),
	})
	h := (&Server{Storage: backend}).Handler()

	header := http.Header{
		"Content-Type":  {"text/plain"},
		FilenameHeader: {"notes.txt"},
	}
	rr := do(t, h, http.MethodPut, "/objects/notes", bytes.NewBufferString("remember"), header)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	blob, ok := fake.Blob("attachments", "notes")
	require.True(t, ok)
	assert.Equal(t, "text/plain", blob.ContentType)
	assert.Equal(t, `inline; filename="notes.txt"`, blob.ContentDisposition)

	rr = do(t, h, http.MethodGet, "/objects/notes", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "remember", rr.Body.String())

	rr = do(t, h, http.MethodGet, "/objects/absent", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodHead, "/objects/absent", nil, nil).Code)
}

func TestServerStartStopsOnCancel(t *testing.T) {
	backend, err := filesystem.New(t.TempDir(), filesystem.Options{})
	require.NoError(t, err)
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	srv := &Server{Storage: backend, Log: &logger}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
	assert.Contains(t, logs.String(), "http gateway listening")
}
