// Package api exposes the tutor over HTTP: question answering, per-user
// history, chapter personalization and translation, plus health probes.
//
// Identity is resolved per request: a valid HMAC bearer token names a
// user, anything else is bucketed under an IP-scoped anonymous identity so
// quotas apply either way.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/physicalai/tutor/internal/govern"
	"github.com/physicalai/tutor/internal/tutor"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Service     *tutor.Service  // Required
	Governor    *govern.Governor // Optional: nil disables budget in /ready
	Pool        *pgxpool.Pool    // Optional: nil fails /ready
	Verifier    TokenVerifier    // Required
	CORSOrigins []string         // Allowed origins for CORS
	IsDev       bool             // Disables HSTS
	TrustProxy  bool             // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int              // Per-IP burst size (0 = default 30)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("tutor service is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	th := &tutorHandler{service: cfg.Service, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/question", th.question)
	mux.HandleFunc("GET /api/v1/chat/history", th.chatHistory)
	mux.HandleFunc("POST /api/v1/personalize", th.personalize)
	mux.HandleFunc("POST /api/v1/translate", th.translate)

	// Rate limiter: per-IP token bucket (1 token/sec refill). This guards
	// the transport; the per-user question/personalization/translation
	// quotas live in the governor.
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware(cfg.Verifier, cfg.TrustProxy)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, cfg.Governor, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
