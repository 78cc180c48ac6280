package httpapi

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/hub"
	"github.com/asergenalkan/vercelclone/internal/queue"
	"github.com/asergenalkan/vercelclone/internal/repository"
)

// Lifecycle is the slice of the container lifecycle manager the gateway
// drives for stop and cleanup requests.
type Lifecycle interface {
	StopDeployment(ctx context.Context, dep *domain.Deployment) error
	CleanupProjectResources(ctx context.Context, projectID string) error
}

// Router wires the gateway's HTTP endpoints to the queue, the store and the
// log hub.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	queue       queue.Queue
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	lifecycle   Lifecycle
	hub         *hub.Hub
	upgrader    websocket.Upgrader
	workerToken string
	dbHealth    func(context.Context) error
	queueHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	buildsEnqueued     *prometheus.CounterVec
	ingestFragments    prometheus.Counter
}

const (
	healthCheckTimeout = 2 * time.Second
	sseHeartbeatPeriod = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, q queue.Queue, projects repository.ProjectRepository, deployments repository.DeploymentRepository, lc Lifecycle, h *hub.Hub, workerToken string, dbHealth, queueHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		queue:       q,
		projects:    projects,
		deployments: deployments,
		lifecycle:   lc,
		hub:         h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		workerToken: strings.TrimSpace(workerToken),
		dbHealth:    dbHealth,
		queueHealth: queueHealth,
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/builds", r.audit("/api/builds", r.handleBuilds))
	r.mux.HandleFunc("/api/builds/", r.audit("/api/builds/{id}", r.handleBuildByID))
	r.mux.HandleFunc("/api/deployments/", r.audit("/api/deployments/{id}", r.handleDeploymentSubroutes))
	r.mux.HandleFunc("/api/projects/", r.audit("/api/projects/{id}", r.handleProjectByID))
	r.mux.HandleFunc("/ws/logs", r.audit("/ws/logs", r.handleLogsWS))
	r.mux.HandleFunc("/ws/ingest", r.audit("/ws/ingest", r.handleIngest))
}

type buildRequest struct {
	ProjectID       string `json:"project_id"`
	Branch          string `json:"branch,omitempty"`
	CommitSHA       string `json:"commit_sha,omitempty"`
	CommitMessage   string `json:"commit_message,omitempty"`
	Framework       string `json:"framework,omitempty"`
	BuildCommand    string `json:"build_command,omitempty"`
	InstallCommand  string `json:"install_command,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`
	NodeVersion     string `json:"node_version,omitempty"`
	AccessToken     string `json:"access_token,omitempty"`
}

func (r *Router) handleBuilds(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload buildRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	project, err := r.projects.GetProjectByID(req.Context(), payload.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	branch := payload.Branch
	if branch == "" {
		branch = project.ProductionBranch
	}
	commit := payload.CommitSHA
	if commit == "" {
		commit = domain.CommitLatest
	}
	isPreview := branch != project.ProductionBranch
	priority := domain.PriorityProduction
	if isPreview {
		priority = domain.PriorityPreview
	}

	dep := &domain.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		Status:        domain.StatusPending,
		Stage:         domain.StageQueued,
		Branch:        branch,
		CommitSHA:     commit,
		CommitMessage: payload.CommitMessage,
		IsPreview:     isPreview,
	}
	if err := r.deployments.CreateDeployment(req.Context(), dep); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	nodeVersion := payload.NodeVersion
	if nodeVersion == "" {
		nodeVersion = project.NodeVersion
	}
	// The job id doubles as the deployment id: one build attempt, one job.
	job := &domain.BuildJob{
		ID:              dep.ID,
		DeploymentID:    dep.ID,
		ProjectID:       project.ID,
		UserID:          project.OwnerID,
		RepoURL:         project.RepoURL,
		Branch:          branch,
		CommitSHA:       commit,
		Framework:       payload.Framework,
		BuildCommand:    payload.BuildCommand,
		InstallCommand:  payload.InstallCommand,
		OutputDirectory: payload.OutputDirectory,
		NodeVersion:     nodeVersion,
		AccessToken:     payload.AccessToken,
		IsPreview:       isPreview,
		Priority:        priority,
		EnqueuedAt:      time.Now().UTC(),
	}
	if err := r.queue.Enqueue(req.Context(), job); err != nil {
		r.logger.Error("enqueue failed", "deployment_id", dep.ID, "error", err)
		now := time.Now().UTC()
		if uerr := r.deployments.UpdateDeploymentStatus(req.Context(), domain.StatusUpdate{
			DeploymentID: dep.ID,
			Status:       domain.StatusFailed,
			Stage:        domain.StageQueued,
			ErrorMessage: "could not enqueue build job",
			CompletedAt:  &now,
		}); uerr != nil {
			r.logger.Error("mark enqueue failure", "deployment_id", dep.ID, "error", uerr)
		}
		writeError(w, http.StatusInternalServerError, "could not enqueue build job")
		return
	}
	r.recordEnqueue(priority)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"deployment_id": dep.ID,
		"job_id":        job.ID,
		"status":        dep.Status,
		"is_preview":    isPreview,
	})
}

func (r *Router) handleBuildByID(w http.ResponseWriter, req *http.Request) {
	jobID := strings.TrimPrefix(req.URL.Path, "/api/builds/")
	if jobID == "" || strings.Contains(jobID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		status, err := r.queue.Status(req.Context(), jobID)
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		err := r.queue.Cancel(req.Context(), jobID)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
			return
		case errors.Is(err, queue.ErrNotCancellable):
			writeError(w, http.StatusConflict, "job already started")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		now := time.Now().UTC()
		if uerr := r.deployments.UpdateDeploymentStatus(req.Context(), domain.StatusUpdate{
			DeploymentID: jobID,
			Status:       domain.StatusCancelled,
			CompletedAt:  &now,
		}); uerr != nil {
			r.logger.Warn("mark deployment cancelled", "deployment_id", jobID, "error", uerr)
		}
		r.hub.Publish(hub.Fragment{
			DeploymentID: jobID,
			Log:          "Build cancelled before it started.\n",
			Status:       string(domain.StatusCancelled),
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/deployments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "stop":
		r.handleDeploymentStop(w, req, deploymentID)
	case len(parts) == 3 && parts[1] == "logs" && parts[2] == "stream":
		r.handleLogsSSE(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentStop(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	dep, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dep.Status != domain.StatusReady {
		writeError(w, http.StatusConflict, "only READY deployments can be stopped")
		return
	}
	if err := r.lifecycle.StopDeployment(req.Context(), dep); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.projects.GetProjectByID(req.Context(), projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := r.lifecycle.CleanupProjectResources(req.Context(), projectID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	if _, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := hub.NewWSClient(conn, r.logger)
	if err := r.hub.Subscribe(req.Context(), deploymentID, client); err != nil {
		r.logger.Warn("log subscription failed", "deployment_id", deploymentID, "error", err)
		client.Close()
		return
	}
	go func() {
		defer func() {
			r.hub.Unsubscribe(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := hub.NewSSEClient(w, flusher, r.logger)
	if err := r.hub.Subscribe(req.Context(), deploymentID, client); err != nil {
		r.logger.Warn("log subscription failed", "deployment_id", deploymentID, "error", err)
		return
	}
	defer r.hub.Unsubscribe(deploymentID, client)

	ticker := time.NewTicker(sseHeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleIngest accepts the worker publisher connection. Each fragment is
// applied by the hub before it is appended to the durable build log. Publish
// returns only after the room has absorbed the fragment, so a room created
// by this very fragment seeds from a store that does not contain it yet and
// a later snapshot never carries it twice.
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if !r.verifyWorkerToken(w, req) {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("ingest upgrade failed", "error", err)
		return
	}
	r.logger.Info("worker publisher connected", "remote", conn.RemoteAddr().String())
	go func() {
		defer conn.Close()
		for {
			var frag hub.Fragment
			if err := conn.ReadJSON(&frag); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					r.logger.Warn("ingest read failed", "error", err)
				}
				return
			}
			if frag.DeploymentID == "" {
				continue
			}
			r.hub.Publish(frag)
			r.recordIngestFragment()
			if frag.Log != "" {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := r.deployments.AppendBuildLog(ctx, frag.DeploymentID, frag.Log); err != nil {
					r.logger.Warn("persist log fragment", "deployment_id", frag.DeploymentID, "error", err)
				}
				cancel()
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	check := func(name string, probe func(context.Context) error) {
		if probe == nil {
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := probe(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components[name] = map[string]any{"status": "up"}
		}
	}
	check("database", r.dbHealth)
	check("queue", r.queueHealth)
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// verifyWorkerToken gates the ingest endpoint with the shared worker secret.
func (r *Router) verifyWorkerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.workerToken
	if expected == "" {
		r.logger.Error("worker token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "worker authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Worker-Token"))
	if token == "" {
		token = strings.TrimSpace(req.URL.Query().Get("worker_token"))
	}
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("worker token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid worker token")
		return false
	}
	return true
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
