// Package http exposes the engine's REST surface: ride lifecycle endpoints,
// driver location ingest, and the nearby-driver query.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ride-dispatch/pkg/auth"
	"ride-dispatch/pkg/logger"
)

// Server wraps the mux with auth and logging middleware.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

func NewServer(port int, handler *Handler, jwt *auth.JWTManager, log logger.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /rides", handler.RequestRide)
	protected.HandleFunc("GET /rides/{id}", handler.GetRide)
	protected.HandleFunc("POST /rides/{id}/accept", handler.AcceptRide)
	protected.HandleFunc("POST /rides/{id}/arrive-pickup", handler.ArrivePickup)
	protected.HandleFunc("POST /rides/{id}/start", handler.StartRide)
	protected.HandleFunc("POST /rides/{id}/arrive-destination", handler.ArriveDestination)
	protected.HandleFunc("POST /rides/{id}/complete", handler.CompleteRide)
	protected.HandleFunc("POST /rides/{id}/cancel", handler.CancelRide)
	protected.HandleFunc("POST /drivers/location", handler.ReportLocation)
	protected.HandleFunc("GET /drivers/nearby", handler.NearbyDrivers)

	// Location reports are the hot path; five a second per driver is
	// already generous for a phone in a moving vehicle.
	limiter := NewRateLimiter(5, 10)
	mux.Handle("/", jwt.Middleware(limiter.Middleware(protected)))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      loggingMiddleware(log, mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start blocks serving until shutdown or failure.
func (s *Server) Start() error {
	s.log.Info("http.start", "Listening on "+s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logger.LogFields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http.request", "Request handled")
	})
}
