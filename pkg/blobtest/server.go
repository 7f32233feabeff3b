// Package blobtest provides an in-memory stand-in for the subset of the Azure
// Blob service REST API used by azstore: containers, Put Blob, Put Block,
// Put Block List, Get Blob, Get Blob Properties and Delete Blob.
//
// Requests must carry a SharedKey authorization for the server's account;
// signatures are not verified.
package blobtest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Account and Key are the well-known development storage credentials.
const (
	Account = "devstoreaccount1"
	Key     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// Blob is a committed object.
type Blob struct {
	Data               []byte
	ContentType        string
	ContentDisposition string
	ETag               string
	LastModified       time.Time
}

// Request records one call received by the server.
type Request struct {
	Method    string
	Container string
	Blob      string
	Comp      string
	BodyBytes int
	Header    http.Header
}

// Server is a fake blob service bound to a loopback listener.
type Server struct {
	*httptest.Server
	account string

	mu         sync.Mutex
	containers map[string]map[string]*Blob
	staged     map[string]map[string][]byte
	requests   []Request
	etag       int
}

// NewServer starts a server for Account. The server is closed when the test
// ends; the test is skipped when no loopback listener is available.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("httptest listener unavailable: %v", err)
	}
	s := &Server{
		account:    Account,
		containers: make(map[string]map[string]*Blob),
		staged:     make(map[string]map[string][]byte),
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(s.serveHTTP))
	srv.Listener = ln
	srv.Start()
	s.Server = srv
	t.Cleanup(srv.Close)
	return s
}

// ServiceURL is the path-style endpoint for the account.
func (s *Server) ServiceURL() string {
	return s.URL + "/" + s.account + "/"
}

// CreateContainer adds an empty container.
func (s *Server) CreateContainer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[name]; !ok {
		s.containers[name] = make(map[string]*Blob)
	}
}

// Blob returns a copy of the committed blob, if present.
func (s *Server) Blob(container, name string) (Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.containers[container][name]
	if !ok {
		return Blob{}, false
	}
	cp := *b
	cp.Data = append([]byte(nil), b.Data...)
	return cp, true
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many received calls match method and comp.
func (s *Server) Count(method, comp string) int {
	return len(s.Filter(method, comp))
}

// Filter returns the received calls that match method and comp.
func (s *Server) Filter(method, comp string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && r.Comp == comp {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 3)
	if parts[0] != s.account || !strings.HasPrefix(r.Header.Get("Authorization"), "SharedKey "+s.account+":") {
		writeError(w, r, http.StatusForbidden, "AuthenticationFailed", "Server failed to authenticate the request.")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	var container, name string
	if len(parts) > 1 {
		container = parts[1]
	}
	if len(parts) > 2 {
		name = parts[2]
	}
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{
		Method:    r.Method,
		Container: container,
		Blob:      name,
		Comp:      q.Get("comp"),
		BodyBytes: len(body),
		Header:    r.Header.Clone(),
	})
	if container == "" {
		writeError(w, r, http.StatusBadRequest, "InvalidUri", "The requested URI does not represent any resource on the server.")
		return
	}
	if name == "" {
		s.serveContainer(w, r, container)
		return
	}
	blobs, ok := s.containers[container]
	if !ok {
		writeError(w, r, http.StatusNotFound, "ContainerNotFound", "The specified container does not exist.")
		return
	}
	switch {
	case r.Method == http.MethodPut && q.Get("comp") == "":
		if r.Header.Get("x-ms-blob-type") != "BlockBlob" {
			writeError(w, r, http.StatusBadRequest, "InvalidHeaderValue", "x-ms-blob-type must be BlockBlob.")
			return
		}
		blobs[name] = s.commit(body, r.Header)
		delete(s.staged, container+"/"+name)
		s.writeCreated(w, blobs[name])
	case r.Method == http.MethodPut && q.Get("comp") == "block":
		key := container + "/" + name
		if s.staged[key] == nil {
			s.staged[key] = make(map[string][]byte)
		}
		s.staged[key][q.Get("blockid")] = body
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut && q.Get("comp") == "blocklist":
		data, err := s.assemble(container+"/"+name, body)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "InvalidBlockList", err.Error())
			return
		}
		blobs[name] = s.commit(data, r.Header)
		delete(s.staged, container+"/"+name)
		s.writeCreated(w, blobs[name])
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		b, ok := blobs[name]
		if !ok {
			writeError(w, r, http.StatusNotFound, "BlobNotFound", "The specified blob does not exist.")
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(b.Data)))
		h.Set("Content-Type", b.ContentType)
		if b.ContentDisposition != "" {
			h.Set("Content-Disposition", b.ContentDisposition)
		}
		h.Set("ETag", b.ETag)
		h.Set("Last-Modified", b.LastModified.Format(http.TimeFormat))
		h.Set("x-ms-blob-type", "BlockBlob")
		h.Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(b.Data)
		}
	case r.Method == http.MethodDelete:
		if _, ok := blobs[name]; !ok {
			writeError(w, r, http.StatusNotFound, "BlobNotFound", "The specified blob does not exist.")
			return
		}
		delete(blobs, name)
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "UnsupportedHttpVerb", "The resource doesn't support the specified HTTP verb.")
	}
}

func (s *Server) serveContainer(w http.ResponseWriter, r *http.Request, container string) {
	if r.URL.Query().Get("restype") != "container" {
		writeError(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "restype must be container.")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if _, ok := s.containers[container]; ok {
			writeError(w, r, http.StatusConflict, "ContainerAlreadyExists", "The specified container already exists.")
			return
		}
		s.containers[container] = make(map[string]*Blob)
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if _, ok := s.containers[container]; !ok {
			writeError(w, r, http.StatusNotFound, "ContainerNotFound", "The specified container does not exist.")
			return
		}
		delete(s.containers, container)
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "UnsupportedHttpVerb", "The resource doesn't support the specified HTTP verb.")
	}
}

func (s *Server) commit(data []byte, h http.Header) *Blob {
	s.etag++
	ct := h.Get("x-ms-blob-content-type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Blob{
		Data:               append([]byte(nil), data...),
		ContentType:        ct,
		ContentDisposition: h.Get("x-ms-blob-content-disposition"),
		ETag:               fmt.Sprintf("\"0x%016X\"", s.etag),
		LastModified:       time.Now().UTC().Truncate(time.Second),
	}
}

func (s *Server) writeCreated(w http.ResponseWriter, b *Blob) {
	w.Header().Set("ETag", b.ETag)
	w.Header().Set("Last-Modified", b.LastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusCreated)
}

type blockList struct {
	Entries []struct {
		XMLName xml.Name
		ID      string `xml:",chardata"`
	} `xml:",any"`
}

func (s *Server) assemble(key string, body []byte) ([]byte, error) {
	var list blockList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	staged := s.staged[key]
	var data []byte
	for _, e := range list.Entries {
		block, ok := staged[e.ID]
		if !ok {
			return nil, fmt.Errorf("block %s was not staged", e.ID)
		}
		data = append(data, block...)
	}
	return data, nil
}

// StagedBlocks returns the ids of uncommitted blocks for a blob, sorted.
func (s *Server) StagedBlocks(container, name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.staged[container+"/"+name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("x-ms-error-code", code)
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?><Error><Code>%s</Code><Message>%s</Message></Error>", code, msg)
}
