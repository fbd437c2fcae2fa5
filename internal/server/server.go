package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/swivlabs/swiv-engine/internal/server/handler"
	"github.com/swivlabs/swiv-engine/internal/server/middleware"
	"github.com/swivlabs/swiv-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Protocol *handler.ProtocolHandler
	Pools    *handler.PoolHandler
	Bets     *handler.BetHandler
}

// Server is the HTTP + WebSocket API server for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Protocol config endpoints.
	mux.HandleFunc("GET /api/protocol", handlers.Protocol.GetConfig)
	mux.HandleFunc("POST /api/protocol/initialize", handlers.Protocol.Initialize)
	mux.HandleFunc("PATCH /api/protocol", handlers.Protocol.UpdateConfig)
	mux.HandleFunc("POST /api/protocol/pause", handlers.Protocol.SetPaused)
	mux.HandleFunc("POST /api/protocol/admin", handlers.Protocol.TransferAdmin)

	// Pool endpoints.
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/bets", handlers.Pools.ListPoolBets)
	mux.HandleFunc("POST /api/pools/{id}/resolve", handlers.Pools.ResolvePool)
	mux.HandleFunc("POST /api/pools/{id}/finalize", handlers.Pools.FinalizeWeights)
	mux.HandleFunc("POST /api/pools/{id}/settle", handlers.Pools.SettlePool)
	mux.HandleFunc("POST /api/pools/{id}/delegate", handlers.Pools.DelegatePool)
	mux.HandleFunc("POST /api/pools/{id}/undelegate", handlers.Pools.UndelegatePool)
	mux.HandleFunc("POST /api/pools/{id}/undelegate-bets", handlers.Pools.BatchUndelegateBets)

	// Bet endpoints.
	mux.HandleFunc("POST /api/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/reveal", handlers.Bets.RevealBet)
	mux.HandleFunc("POST /api/bets/{id}/update", handlers.Bets.UpdateBet)
	mux.HandleFunc("POST /api/bets/{id}/delegate", handlers.Bets.DelegateBet)
	mux.HandleFunc("POST /api/bets/{id}/undelegate", handlers.Bets.UndelegateBet)
	mux.HandleFunc("POST /api/bets/{id}/calculate", handlers.Bets.CalculateOutcome)
	mux.HandleFunc("POST /api/bets/{id}/claim", handlers.Bets.ClaimReward)
	mux.HandleFunc("POST /api/bets/{id}/refund", handlers.Bets.RefundBet)
	mux.HandleFunc("POST /api/bets/{id}/emergency-refund", handlers.Bets.EmergencyRefund)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
