package session

import (
	"context"
	"log/slog"
	"time"
)

const maxSweepInterval = 5 * time.Minute

// SweepInterval is min(ttl/2, 5m).
func SweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval <= 0 || interval > maxSweepInterval {
		return maxSweepInterval
	}
	return interval
}

// Sweep evicts contexts idle for longer than ttl and purges store rows older
// than a week. It returns the evicted ids.
func (s *Service) Sweep(ctx context.Context, ttl time.Duration) []string {
	evicted := s.mgr.Sweep(ttl)
	if len(evicted) > 0 {
		s.metrics.SetActiveContexts(s.mgr.Len())
		s.logger.Info("TTL worker evicted idle contexts", "count", len(evicted))
	}
	for _, id := range evicted {
		s.onEvict(id)
	}

	if s.repo != nil {
		if deleted, err := s.repo.CleanupStale(ctx, staleRowAge); err != nil {
			s.logger.Error("TTL worker failed to cleanup stale rows", "error", err)
		} else if deleted > 0 {
			s.logger.Info("TTL worker cleaned up stale contexts", "count", deleted)
		}
	}
	return evicted
}

// StartSweeper runs Sweep periodically until ctx is done. The returned
// channel is closed when the worker has exited. A non-positive ttl disables
// the worker.
func (s *Service) StartSweeper(ctx context.Context, ttl time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if ttl <= 0 {
		close(done)
		return done
	}

	interval := SweepInterval(ttl)
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
