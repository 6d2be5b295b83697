// Package gateway implements the streaming gateway core (§4.4): it
// terminates client chat-completions requests, drives the upstream
// stream client and window buffer, dispatches windows to the safety
// classifier, and re-serializes annotated chunks back to the client.
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mira-okafor/guardstream/internal/metrics"
	"github.com/mira-okafor/guardstream/internal/safety"
	"github.com/mira-okafor/guardstream/internal/upstream"
)

// Server is the gateway's HTTP surface: a single authenticated streaming
// endpoint plus health and metrics.
type Server struct {
	router chi.Router

	apiKey     string
	upstream   *upstream.Client
	classifier *safety.Classifier
	cache      verdictCache

	bufferSize    int
	flushInterval time.Duration

	metrics *metrics.Gateway
}

// Config bundles the dependencies New needs. It intentionally mirrors
// config.GatewayConfig's shape rather than taking that type directly, so
// this package doesn't depend on how configuration is loaded.
type Config struct {
	APIKey        string
	BufferSize    int
	FlushInterval time.Duration
	RedisURL      string
	VerdictTTL    time.Duration
}

// New wires up the gateway's router and dependencies. gwMetrics may be
// nil to disable instrumentation (used by some tests).
func New(cfg Config, upstreamClient *upstream.Client, classifier *safety.Classifier, gwMetrics *metrics.Gateway) (*Server, error) {
	cache, err := newVerdictCache(cfg.RedisURL, cfg.VerdictTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		apiKey:        cfg.APIKey,
		upstream:      upstreamClient,
		classifier:    classifier,
		cache:         cache,
		bufferSize:    cfg.BufferSize,
		flushInterval: cfg.FlushInterval,
		metrics:       gwMetrics,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearerToken)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requireBearerToken implements the gateway's single shared-key auth
// check (§6): exact string equality against the configured API key, no
// upstream call on failure.
func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	const prefix = "Bearer "
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || header[len(prefix):] != s.apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
