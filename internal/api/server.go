// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/points-leaderboard/internal/circuitbreaker"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/metrics"
	"github.com/points-leaderboard/internal/service"
)

// serviceName is reported by the health check
const serviceName = "points-leaderboard"

// UserServiceInterface defines the leaderboard operations the handlers call
type UserServiceInterface interface {
	ListUsers(ctx context.Context, input service.ListUsersInput) (*service.ListUsersResult, error)
	GetUser(ctx context.Context, input service.GetUserInput) (*service.GetUserResult, error)
	WeeklyPoints(ctx context.Context, input service.WeeklyPointsInput) (*service.WeeklyPointsResult, error)
}

// IndexerStatus reports the health of the upstream indexer
type IndexerStatus interface {
	BreakerState() circuitbreaker.State
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	handler       http.Handler
	httpServer    *http.Server
	userService   UserServiceInterface
	indexerStatus IndexerStatus
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int // Requests per second per client IP, 0 disables limiting
	RateLimitBurst  int
	TrustProxy      bool // Key rate limits on X-Forwarded-For
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, userService UserServiceInterface, indexerStatus IndexerStatus) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		userService:   userService,
		indexerStatus: indexerStatus,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: the request logger must exist before anything logs
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(TracingMiddleware)
	s.router.Use(MetricsMiddleware)
	if s.config.RateLimitRPS > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst, s.config.TrustProxy)))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// CORS wraps the router so preflight requests never reach route matching
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	s.handler = cors(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(NoCacheMiddleware)
	api.NotFoundHandler = s.router.NotFoundHandler
	api.MethodNotAllowedHandler = s.router.MethodNotAllowedHandler

	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodPost)
	// Registered before {address} so "weekly" is not taken for an address
	api.HandleFunc("/users/weekly", s.handleWeeklyPoints).Methods(http.MethodPost)
	api.HandleFunc("/users/{address}", s.handleGetUser).Methods(http.MethodPost)
	api.HandleFunc("/user", s.handleGetUser).Methods(http.MethodPost)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// healthResponse is the body of GET /health
type healthResponse struct {
	Status  string        `json:"status"`
	Service string        `json:"service"`
	Indexer indexerHealth `json:"indexer"`
}

type indexerHealth struct {
	State circuitbreaker.State `json:"state"`
}

// handleHealth reports the service as degraded while the indexer circuit is open
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := circuitbreaker.StateClosed
	if s.indexerStatus != nil {
		state = s.indexerStatus.BreakerState()
	}

	status := "healthy"
	if state == circuitbreaker.StateOpen {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, healthResponse{
		Status:  status,
		Service: serviceName,
		Indexer: indexerHealth{State: state},
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
