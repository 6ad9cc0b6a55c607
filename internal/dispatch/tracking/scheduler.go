package tracking

import (
	"context"
	"sync"
	"time"

	"ride-dispatch/pkg/config"
	"ride-dispatch/pkg/logger"
)

// Scheduler drives the broadcaster's two loops on wall-clock tickers. Tests
// bypass it and call the cycle methods directly.
type Scheduler struct {
	broadcaster *Broadcaster
	cfg         config.DispatchConfig
	log         logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewScheduler(broadcaster *Broadcaster, cfg config.DispatchConfig, log logger.Logger) *Scheduler {
	return &Scheduler{broadcaster: broadcaster, cfg: cfg, log: log}
}

// Start launches both loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(ctx)
	s.log.Info("scheduler.start", "Availability loops started")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	broadcast := time.NewTicker(s.cfg.BroadcastInterval)
	change := time.NewTicker(s.cfg.ChangeInterval)
	defer broadcast.Stop()
	defer change.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-broadcast.C:
			s.broadcaster.RunBroadcastCycle(ctx)
		case <-change.C:
			s.broadcaster.RunChangeDetectionCycle(ctx)
		}
	}
}

// Stop halts both loops and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.log.Info("scheduler.stop", "Availability loops stopped")
}
