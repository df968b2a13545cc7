// Package server exposes the prover over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/justinas/alice"

	"github.com/kvinwang/gpt-prover/pkg/api"
	"github.com/kvinwang/gpt-prover/pkg/auth"
	"github.com/kvinwang/gpt-prover/pkg/prover"
)

// Options wire a Server.
type Options struct {
	Service *prover.Service
	Host    prover.Host

	// RateRPS and RateBurst bound requests per client IP. RateRPS <= 0
	// disables limiting.
	RateRPS   float64
	RateBurst int
}

// Server routes HTTP requests to the prover service.
type Server struct {
	svc     *prover.Service
	host    prover.Host
	limiter *api.GlobalRateLimiter
	logger  *slog.Logger
	handler http.Handler
}

// New builds the route table and middleware chain.
func New(opts Options) (*Server, error) {
	if opts.Service == nil || opts.Host == nil {
		return nil, errors.New("server: service and host are required")
	}
	s := &Server{
		svc:    opts.Service,
		host:   opts.Host,
		logger: slog.Default().With("component", "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/pubkey", s.handlePubKey)
	mux.HandleFunc("GET /v1/seal-key", s.handleSealKey)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("POST /v1/run-url", s.handleRunURL)
	mux.HandleFunc("POST /v1/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/ask/gpt4", s.handleAskModel(prover.ModelGPT4))
	mux.HandleFunc("POST /v1/ask/gpt35", s.handleAskModel(prover.ModelGPT35))
	mux.HandleFunc("POST /v1/admin/transfer-ownership", s.handleTransferOwnership)
	mux.HandleFunc("PUT /v1/admin/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /v1/admin/secret", s.handleUpdateSecret)
	mux.HandleFunc("POST /v1/admin/allow", s.handleAllowCodeHash)
	mux.HandleFunc("POST /v1/admin/code-secret", s.handleSetSecret)
	mux.HandleFunc("POST /v1/admin/api-url", s.handleUpdateAPIURL)
	mux.HandleFunc("POST /v1/admin/api-key", s.handleUpdateAPIKey)
	mux.HandleFunc("/", api.WriteNotFound)

	chain := alice.New(auth.RequestIDMiddleware, s.logRequests)
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = api.NewGlobalRateLimiter(opts.RateRPS, burst)
		chain = chain.Append(s.limiter.Middleware)
	}
	chain = chain.Append(auth.NewMiddleware(auth.NewVerifier(opts.Host.Address())))

	s.handler = chain.Then(mux)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}
