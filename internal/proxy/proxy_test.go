package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu      sync.Mutex
	byID    map[string]*domain.Deployment
	byURL   map[string]*domain.Deployment
	lookups int
}

func (f *fakeSource) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	d, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeSource) GetReadyDeploymentByURL(_ context.Context, url string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	d, ok := f.byURL[url]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeSource) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

// backendOn starts an HTTP backend and returns its port and a cleanup.
func backendOn(t *testing.T, body string) int {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "%s host=%s path=%s", body, req.Host, req.URL.Path)
	}))
	t.Cleanup(backend.Close)
	_, portStr, err := net.SplitHostPort(backend.Listener.Addr().String())
	if err != nil {
		t.Fatalf("backend addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func get(t *testing.T, server *Server, host, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestProductionHostRoutesToContainer(t *testing.T) {
	port := backendOn(t, "production")
	source := &fakeSource{byURL: map[string]*domain.Deployment{
		"acme.vercelclone.local": {ID: "dep-1", Status: domain.StatusReady, Port: port},
	}}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local"}, testLogger())

	rec := get(t, server, "acme.vercelclone.local", "/about")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if body != "production host=acme.vercelclone.local path=/about" {
		t.Fatalf("body = %q", body)
	}
}

func TestPreviewHostResolvesByDeploymentID(t *testing.T) {
	port := backendOn(t, "preview")
	source := &fakeSource{byID: map[string]*domain.Deployment{
		"dep-42": {ID: "dep-42", Status: domain.StatusReady, Port: port},
	}}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local"}, testLogger())

	rec := get(t, server, "dep-42.preview.vercelclone.local", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownHostIs404(t *testing.T) {
	source := &fakeSource{}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local"}, testLogger())

	rec := get(t, server, "ghost.vercelclone.local", "/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNonReadyPreviewIs404(t *testing.T) {
	source := &fakeSource{byID: map[string]*domain.Deployment{
		"dep-9": {ID: "dep-9", Status: domain.StatusBuilding},
	}}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local"}, testLogger())

	rec := get(t, server, "dep-9.preview.vercelclone.local", "/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResolutionIsCachedWithinTTL(t *testing.T) {
	port := backendOn(t, "cached")
	source := &fakeSource{byURL: map[string]*domain.Deployment{
		"acme.vercelclone.local": {ID: "dep-1", Status: domain.StatusReady, Port: port},
	}}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local", CacheTTL: time.Minute}, testLogger())

	for i := 0; i < 3; i++ {
		if rec := get(t, server, "acme.vercelclone.local", "/"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if got := source.lookupCount(); got != 1 {
		t.Fatalf("store lookups = %d, want 1 within TTL", got)
	}
}

func TestHostWithPortIsNormalized(t *testing.T) {
	port := backendOn(t, "normalized")
	source := &fakeSource{byURL: map[string]*domain.Deployment{
		"acme.vercelclone.local": {ID: "dep-1", Status: domain.StatusReady, Port: port},
	}}
	server := NewServer(source, Config{DomainSuffix: "vercelclone.local"}, testLogger())

	rec := get(t, server, "acme.vercelclone.local:8080", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthzBypassesRouting(t *testing.T) {
	server := NewServer(&fakeSource{}, Config{DomainSuffix: "vercelclone.local"}, testLogger())
	rec := get(t, server, "anything.example", "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
