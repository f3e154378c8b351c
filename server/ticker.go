package server

import (
	"context"
	"time"
)

// RunTicker drives Tick on a fixed period until ctx is cancelled,
// implementing the single-logical-thread scheduler (spec.md §5): one
// goroutine, no per-subscription or per-session timers. interval should
// be shorter than the shortest configured PublishingInterval/sampling
// interval in practice, since this is the only clock subscriptions and
// session timeouts are measured against.
func (s *Server) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}
