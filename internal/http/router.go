package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/webhook"
	"github.com/splax/pagesmith/internal/ws"
)

// Deployer accepts requests for background processing and reports their
// latest outcome.
type Deployer interface {
	Submit(req domain.DeploymentRequest)
	Status(ctx context.Context, task string) (domain.DeploymentRecord, error)
}

// Options carries router settings that are not services.
type Options struct {
	RateLimitPerMinute int
	GitHubConfigured   bool
	GitHubAccount      string
	StoreHealth        func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux                *http.ServeMux
	logger             *slog.Logger
	deploy             Deployer
	webhook            webhook.Service
	hub                *ws.Hub
	upgrader           websocket.Upgrader
	limiter            RateLimiter
	submitLimit        rateRule
	streamLimit        rateRule
	opts               Options
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	submissions        *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies. A nil limiter gets an
// in-memory one.
func NewRouter(logger *slog.Logger, deploySvc Deployer, webhookSvc webhook.Service, hub *ws.Hub, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		deploy:  deploySvc,
		webhook: webhookSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		submitLimit: rateRule{route: "/", limit: opts.RateLimitPerMinute, window: rateWindowDefault},
		streamLimit: rateRule{route: "/ws/status", limit: rateLimitWebsocket, window: rateWindowDefault},
		opts:        opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/", r.audit("/", r.handleRoot))
	r.mux.HandleFunc("/status/", r.audit("/status/:task", r.handleStatus))
	r.mux.HandleFunc("/health", r.audit("/health", r.handleHealth))
	r.mux.HandleFunc("/ws/status", r.audit("/ws/status", r.withRateLimit(r.streamLimit, r.handleStatusWS)))
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit(r.submitLimit, r.handleSubmit)(w, req)
	case http.MethodGet:
		r.handleDocs(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

// handleSubmit checks the body shape first, then the secret, then the
// fields; an unauthenticated caller learns nothing about validation.
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var payload domain.DeploymentRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		r.recordSubmission("malformed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.webhook.Authenticate(payload.Task, payload.Secret); err != nil {
		r.recordSubmission("unauthorized")
		writeError(w, http.StatusUnauthorized, "Invalid secret")
		return
	}
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		r.recordSubmission("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload.Secret = ""

	r.deploy.Submit(payload)
	r.recordSubmission("accepted")
	r.logger.Info("deployment accepted", "task", payload.Task, "round", payload.Round)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "accepted",
		"message":   "Deployment request received and processing",
		"task":      payload.Task,
		"round":     payload.Round,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	task := strings.TrimPrefix(req.URL.Path, "/status/")
	if task == "" || strings.Contains(task, "/") {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	rec, err := r.deploy.Status(req.Context(), task)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		r.logger.Error("status lookup failed", "task", task, "error", err)
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleHealth always answers 200; component state is informational.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	if r.opts.StoreHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.opts.StoreHealth(ctx); err != nil {
			components["store"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	github := map[string]any{"status": "unconfigured"}
	if r.opts.GitHubConfigured {
		github = map[string]any{"status": "up", "account": r.opts.GitHubAccount}
	}
	components["github"] = github

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
		"github_configured": r.opts.GitHubConfigured,
		"components":        components,
	})
}

func (r *Router) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "LLM Code Deployment API",
		"endpoints": map[string]string{
			"POST /":              "Submit deployment request",
			"GET /status/<task>":  "Check deployment status",
			"GET /health":         "Health check",
			"GET /ws/status?task": "Stream status updates for a task",
			"GET /metrics":        "Prometheus metrics",
		},
		"github_configured": r.opts.GitHubConfigured,
	})
}

// handleStatusWS streams record writes for one task. The client is registered
// before the current record is read so no write in between is missed; it may
// see one record twice.
func (r *Router) handleStatusWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "status streaming disabled")
		return
	}
	task := strings.TrimSpace(req.URL.Query().Get("task"))
	if task == "" {
		writeError(w, http.StatusBadRequest, "task query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(task, client)
	if rec, err := r.deploy.Status(req.Context(), task); err == nil {
		if payload, err := json.Marshal(struct {
			Task string `json:"task"`
			domain.DeploymentRecord
		}{Task: task, DeploymentRecord: rec}); err == nil {
			_ = client.Send(payload)
		}
	}
	go func() {
		defer func() {
			r.hub.Unregister(task, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
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
			"request_id", reqID,
		}
		fields = append(fields, "ip", remoteHost(req))
		if fwd := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); fwd != "" {
			fields = append(fields, "forwarded_for", fwd)
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

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
