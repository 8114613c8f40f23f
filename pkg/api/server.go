package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/orchestrator"
)

// requestTimeout bounds each cache operation triggered over HTTP.
const requestTimeout = 5 * time.Second

// defaultHotKeys is how many keys GET /keys/hot returns when n is omitted.
const defaultHotKeys = 10

// Server exposes the orchestrator over HTTP for inspection and operation.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *metrics.Registry
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger
	config   ServerConfig
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// Gatherer, when set, mounts Prometheus exposition at GET /metrics.
	Gatherer prometheus.Gatherer

	// EnablePprof enables Go profiling endpoints at /debug/pprof/*
	EnablePprof bool

	// Logger for server lifecycle events. Defaults to the global logger.
	Logger *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer builds the route table around the given orchestrator. The stats
// routes are mounted only when a registry is attached, and GET /metrics only
// when the config carries a Prometheus gatherer.
func NewServer(orch *orchestrator.Orchestrator, registry *metrics.Registry, config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	s := &Server{
		orch:     orch,
		registry: registry,
		logger:   config.Logger.Named("api"),
		config:   config,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", s.handleSet).Methods(http.MethodPut)
	r.HandleFunc("/cache/{key}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/invalidate", s.handleInvalidate).Methods(http.MethodPost)

	if registry != nil {
		r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
		r.HandleFunc("/keys/hot", s.handleHotKeys).Methods(http.MethodGet)
	}

	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if config.EnablePprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler exposes the route table so the server can be mounted inside a
// larger mux or driven directly in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and begins serving in the background. It returns
// once the address is bound, so Addr reports the final address even when the
// configured one uses port 0.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.config.Address, err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("api server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound listen address. Empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth probes every tier and reports 503 as soon as one fails its
// round trip.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tiers := s.orch.HealthCheck(ctx)

	healthy := true
	for _, th := range tiers {
		if !th.Healthy {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"tiers":   tiers,
	})
}

// handleStats returns a point-in-time copy of the metrics registry.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleHotKeys returns the hottest tracked keys, hottest first.
func (s *Server) handleHotKeys(w http.ResponseWriter, r *http.Request) {
	n := defaultHotKeys
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "n must be a positive integer",
			})
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": s.registry.TopKeys(n),
	})
}

// handleGet reads a key through the full tier traversal, promotions included.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	value, err := s.orch.Get(ctx, key)
	if err != nil {
		writeError(w, err)
		return
	}
	if value == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"key":   key,
			"found": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
		"found": true,
	})
}

type setRequest struct {
	Value      interface{} `json:"value"`
	TTLSeconds int64       `json:"ttl_seconds"`
	Tags       []string    `json:"tags"`
}

// handleSet stores the body's value under the path key. A zero ttl_seconds
// takes each tier's default and a negative one stores without expiry.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	opts := orchestrator.SetOptions{Tags: req.Tags}
	switch {
	case req.TTLSeconds < 0:
		opts.TTL = cache.NoExpiration
	case req.TTLSeconds > 0:
		opts.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.orch.SetWithOptions(ctx, key, req.Value, opts); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":    key,
		"stored": true,
	})
}

// handleDelete removes the key from every tier.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.orch.Delete(ctx, key); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"deleted": true,
	})
}

type invalidateRequest struct {
	Pattern string   `json:"pattern"`
	Tags    []string `json:"tags"`
}

// handleInvalidate removes entries by pattern or by tags, whichever the body
// carries. Batched invalidations report zero removed; the work completes in
// the background.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if (req.Pattern == "") == (len(req.Tags) == 0) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "exactly one of pattern or tags is required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		removed int
		err     error
	)
	if req.Pattern != "" {
		removed, err = s.orch.InvalidatePattern(ctx, req.Pattern)
	} else {
		removed, err = s.orch.InvalidateTags(ctx, req.Tags)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a cache error onto an HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrInvalidKey),
		errors.Is(err, cache.ErrInvalidValue),
		errors.Is(err, cache.ErrInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrTierClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
