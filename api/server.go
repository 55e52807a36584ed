package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/userdirectory/core/session"
)

// HeaderSessionID carries the session id on every call after initialization
const HeaderSessionID = "Mcp-Session-Id"

// Config controls the router
type Config struct {
	// Endpoint is the path serving POST, GET and DELETE.
	Endpoint string
	// MaxBodyBytes bounds a POST body.
	MaxBodyBytes int64
	// EvictOnDisconnect evicts a session whose client went away mid-call.
	EvictOnDisconnect bool
	// InitRate and InitBurst limit session creation per remote address.
	InitRate  float64
	InitBurst int
	// KeepAlive is the interval between SSE keep-alive comments.
	KeepAlive time.Duration
}

// DefaultConfig returns the router defaults
func DefaultConfig() Config {
	return Config{
		Endpoint:          "/rpc",
		MaxBodyBytes:      4 << 20,
		EvictOnDisconnect: true,
		InitRate:          5,
		InitBurst:         20,
		KeepAlive:         25 * time.Second,
	}
}

// Server routes JSON-RPC calls to the conversation of their session
type Server struct {
	registry *session.Registry
	cfg      Config
	metrics  *Metrics
	limiter  *InitLimiter
	router   *mux.Router
	handler  http.Handler
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. It should be the observer of the registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the router logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new router over registry
func NewServer(registry *session.Registry, cfg Config, opts ...Option) *Server {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultConfig().Endpoint
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}

	s := &Server{
		registry: registry,
		cfg:      cfg,
		router:   mux.NewRouter(),
		logger:   log.Logger.With().Str("component", "router").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.limiter = NewInitLimiter(cfg.InitRate, cfg.InitBurst)

	s.setupRoutes()
	s.handler = s.middleware(s.router)
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc(s.cfg.Endpoint, s.instrument("POST", s.handlePost)).Methods("POST")
	s.router.HandleFunc(s.cfg.Endpoint, s.instrument("GET", s.handleGet)).Methods("GET")
	s.router.HandleFunc(s.cfg.Endpoint, s.instrument("DELETE", s.handleDelete)).Methods("DELETE")

	// Diagnostics
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
}

// middleware attaches a request-scoped logger and logs every call
func (s *Server) middleware(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.RemoteAddrHandler("remote")(h)
	return hlog.NewHandler(s.logger)(h)
}

// instrument records the status returned by fn in the request metrics
func (s *Server) instrument(verb string, fn func(w http.ResponseWriter, r *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		status := fn(w, r)
		s.metrics.ObserveRequest(verb, status, s.now().Sub(start))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.registry.Count(),
	})
}

// handleListSessions reports session states without revealing ids
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.Snapshot()
	states := map[string]int{}
	for _, info := range infos {
		states[info.State]++
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(infos),
		"states":   states,
		"sessions": infos,
	})
}
