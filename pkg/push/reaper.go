package push

import "time"

func (s *Session) reap(interval time.Duration) {
	defer close(s.reaperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
			s.reapIdle(s.now())
		}
	}
}

// reapIdle closes every pooled connection last used before now minus the
// idle timeout. Borrowed connections are not in the pool and are never seen.
func (s *Session) reapIdle(now time.Time) int {
	cutoff := now.Add(-s.opts.idleTimeout)
	expired := s.pool.partition(cutoff)
	for _, c := range expired {
		if err := c.Close(); err != nil {
			s.logger.Debug("Error closing idle connection", "connection_id", c.ID(), "err", err)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("Reaped idle connections", "count", len(expired), "idle", s.pool.size())
	}
	return len(expired)
}
