package payment

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically cancels orders that were created or attempted
// but never settled. Runs inside the server process or as a standalone
// worker.
type Sweeper struct {
	service   *Service
	logger    *slog.Logger
	interval  time.Duration
	staleAge  time.Duration
	batchSize int
}

func NewSweeper(service *Service, logger *slog.Logger, interval, staleAge time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		service:   service,
		logger:    logger,
		interval:  interval,
		staleAge:  staleAge,
		batchSize: batchSize,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("stale order sweeper started",
		"interval", s.interval.String(),
		"stale_after", s.staleAge.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale order sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.staleAge)
	cancelled, err := s.service.CancelStale(cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if cancelled > 0 {
		s.logger.Info("swept stale orders", "cancelled", cancelled)
	}
}
