package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/repository"
)

// DeploymentSource resolves hostnames to running deployments.
type DeploymentSource interface {
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	GetReadyDeploymentByURL(ctx context.Context, url string) (*domain.Deployment, error)
}

// Config tunes the host router.
type Config struct {
	// DomainSuffix is the apex all deployment hostnames hang off, e.g.
	// "vercelclone.local". Preview hosts are <deploymentID>.preview.<suffix>.
	DomainSuffix string
	// CacheTTL bounds how long a resolved host-to-port mapping is reused
	// before the store is consulted again.
	CacheTTL time.Duration
	// LookupTimeout bounds a single store lookup.
	LookupTimeout time.Duration
}

type cacheEntry struct {
	port    int
	expires time.Time
}

// Server routes requests by Host header to the deployment container bound to
// that hostname. Upgrade requests pass through untouched.
type Server struct {
	source  DeploymentSource
	cfg     Config
	logger  *slog.Logger
	mu      sync.Mutex
	cache   map[string]cacheEntry
	preview string
}

// NewServer builds a host router over the deployment store.
func NewServer(source DeploymentSource, cfg Config, logger *slog.Logger) *Server {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		cache:   make(map[string]cacheEntry),
		preview: ".preview." + cfg.DomainSuffix,
	}
}

// ServeHTTP resolves the request host and proxies to the matching container.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/healthz" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
		return
	}

	host := hostOnly(req.Host)
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}
	port, err := s.resolve(req.Context(), host)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "deployment not found", http.StatusNotFound)
			return
		}
		s.logger.Error("host resolution failed", "host", host, "error", err)
		http.Error(w, "routing unavailable", http.StatusBadGateway)
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		s.logger.Warn("upstream request failed", "host", host, "port", port, "error", err)
		s.invalidate(host)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	proxy.ServeHTTP(w, req)
}

// resolve maps a hostname to a container port, consulting the cache first.
func (s *Server) resolve(ctx context.Context, host string) (int, error) {
	now := time.Now()
	s.mu.Lock()
	if entry, ok := s.cache[host]; ok && now.Before(entry.expires) {
		s.mu.Unlock()
		return entry.port, nil
	}
	s.mu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	var dep *domain.Deployment
	var err error
	if id, ok := s.previewID(host); ok {
		dep, err = s.source.GetDeploymentByID(lookupCtx, id)
		if err == nil && (dep.Status != domain.StatusReady || dep.Port == 0) {
			err = repository.ErrNotFound
		}
	} else {
		dep, err = s.source.GetReadyDeploymentByURL(lookupCtx, host)
		if err == nil && dep.Port == 0 {
			err = repository.ErrNotFound
		}
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.cache[host] = cacheEntry{port: dep.Port, expires: now.Add(s.cfg.CacheTTL)}
	s.mu.Unlock()
	return dep.Port, nil
}

// previewID extracts the deployment id from a preview hostname.
func (s *Server) previewID(host string) (string, bool) {
	if !strings.HasSuffix(host, s.preview) {
		return "", false
	}
	id := strings.TrimSuffix(host, s.preview)
	if id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

func (s *Server) invalidate(host string) {
	s.mu.Lock()
	delete(s.cache, host)
	s.mu.Unlock()
}

func hostOnly(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
