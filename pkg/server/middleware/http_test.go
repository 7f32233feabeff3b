package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAPIKeyAuth(t *testing.T) {
	protected := APIKeyAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bearer token accepted, got %d", rr.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	current := time.Unix(0, 0)
	opts := RateLimitOptions{
		Requests: 1,
		Window:   time.Second,
		Now: func() time.Time {
			return current
		},
	}
	limited := RateLimit(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request blocked, got %d", rr.Code)
	}
	current = current.Add(time.Second)
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected request allowed after refill, got %d", rr.Code)
	}
}

func TestWrapSkipsDisabledMiddleware(t *testing.T) {
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), APIKeyAuth(""), RateLimit(RateLimitOptions{}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected handler reached, got %d", rr.Code)
	}
}

func TestLoggingAndRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if zerolog.Ctx(r.Context()).GetLevel() == zerolog.Disabled {
			t.Errorf("expected request logger in context")
		}
		panic("boom")
	}), Logging(logger), Recover(logger))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/objects/a", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected panic and request lines, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[1], &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["method"] != http.MethodPut || entry["path"] != "/objects/a" || entry["status"] != float64(http.StatusInternalServerError) {
		t.Fatalf("unexpected log entry %v", entry)
	}
}
