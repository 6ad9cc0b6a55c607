// Package app wires the dispatch engine together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ride-dispatch/internal/dispatch/adapters/collaborators"
	"ride-dispatch/internal/dispatch/adapters/geocode"
	httpadapter "ride-dispatch/internal/dispatch/adapters/http"
	"ride-dispatch/internal/dispatch/adapters/messaging"
	"ride-dispatch/internal/dispatch/adapters/repository"
	wsadapter "ride-dispatch/internal/dispatch/adapters/websocket"
	"ride-dispatch/internal/dispatch/location"
	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/internal/dispatch/ride"
	"ride-dispatch/internal/dispatch/tracking"
	"ride-dispatch/pkg/auth"
	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/rabbitmq"
)

// App is the assembled dispatch engine.
type App struct {
	cfg       *config.Config
	log       logger.Logger
	server    *httpadapter.Server
	wsServer  *http.Server
	scheduler *tracking.Scheduler
	bus       *rabbitmq.Connection
	geocoder  ports.Geocoder

	cleanup []func()
}

// New builds the full object graph from config.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	// Durable stores. The engine runs on Postgres when reachable and falls
	// back to the in-process store so a dev box needs no infrastructure.
	var (
		store    location.Store
		rides    ride.Repository
		eventLog ports.EventLog
	)
	pool, err := repository.NewPool(ctx, cfg)
	if err != nil {
		log.Error("app.db_unavailable", fmt.Errorf("using in-memory stores: %w", err))
		store = location.NewMemoryStore()
		rides = ride.NewMemoryRepository()
		eventLog = tracking.NewMemoryEventLog()
	} else {
		store = repository.NewLocationRepository(pool)
		rides = repository.NewRideRepository(pool)
		eventLog = repository.NewEventRepository(pool)
		a.cleanup = append(a.cleanup, pool.Close)
	}

	bus, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect message bus: %w", err)
	}
	a.bus = bus
	a.cleanup = append(a.cleanup, bus.Close)

	jwt := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	if cfg.Maps.APIKey != "" {
		geocoder, err := geocode.NewGoogleGeocoder(cfg.Maps.APIKey)
		if err != nil {
			return nil, fmt.Errorf("create geocoder: %w", err)
		}
		a.geocoder = geocoder
	}

	// Engine core.
	matcher := location.NewMatcher(store, log)
	densities := tracking.NewDensityCache()
	passengers := tracking.NewPassengerCache()
	publisher := messaging.NewPublisher(bus, log)
	pipeline := location.NewPipeline(store, eventLog, densities, publisher, cfg.Dispatch.GridPrecision, log)

	hub := wsadapter.NewHub(log)
	a.cleanup = append(a.cleanup, hub.Stop)
	broadcaster := tracking.NewBroadcaster(passengers, densities, matcher, hub, cfg.Dispatch, log)
	a.scheduler = tracking.NewScheduler(broadcaster, cfg.Dispatch, log)

	payments := collaborators.NewLoggingPaymentGateway(log)
	notifier := collaborators.NewLoggingNotifier(log)

	rideService := ride.NewService(rides, store, matcher, eventLog, payments, notifier, publisher, cfg.Dispatch, log)

	if err := messaging.NewStatusConsumer(bus, store, log).Start(); err != nil {
		return nil, fmt.Errorf("start status consumer: %w", err)
	}

	wsHandler := wsadapter.NewHandler(hub, jwt, pipeline, passengers, broadcaster, rideService, eventLog, cfg.Dispatch, log)
	httpHandler := httpadapter.NewHandler(rideService, pipeline, matcher, a.geocoder, log)
	a.server = httpadapter.NewServer(cfg.HTTP.Port, httpHandler, jwt, log)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", wsHandler)
	a.wsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Websocket.Port),
		Handler: wsMux,
	}
	return a, nil
}

// Run starts the loops and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- a.server.Start() }()
	go func() {
		a.log.Info("app.websocket_listen", a.wsServer.Addr)
		if err := a.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.log.Error("app.serve", err)
		}
	}

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	a.log.Info("app.shutdown", "Stopping dispatch engine")
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("app.http_shutdown", err)
	}
	if err := a.wsServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error("app.websocket_shutdown", err)
	}

	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
