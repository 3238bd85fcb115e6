package service

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically evicts stale games and connections. The timeout and
// interval pair is chosen once at process start from the execution mode.
type Janitor struct {
	logger            *slog.Logger
	registry          *Registry
	interval          time.Duration
	inactivityTimeout time.Duration
}

func NewJanitor(logger *slog.Logger, registry *Registry, interval, inactivityTimeout time.Duration) *Janitor {
	return &Janitor{
		logger:            logger.With("component", "janitor"),
		registry:          registry,
		interval:          interval,
		inactivityTimeout: inactivityTimeout,
	}
}

func (that *Janitor) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")
	log.Info("janitor started", "interval", that.interval, "inactivityTimeout", that.inactivityTimeout)

	ticker := time.NewTicker(that.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stopped")
			return
		case now := <-ticker.C:
			report := that.registry.SweepStale(now, that.inactivityTimeout)
			if len(report.EvictedGames) > 0 || len(report.EvictedConnections) > 0 {
				log.Info("sweep finished",
					"evictedGames", len(report.EvictedGames),
					"evictedConnections", len(report.EvictedConnections))
			}
		}
	}
}
