package worker

import (
	"context"
	"time"
)

const defaultPingInterval = 5 * time.Second

// WatchBackend pings the backend on an interval and drives the registry's
// restart-recovery path on stop/start transitions. It blocks until ctx is
// canceled.
func (m *Manager) WatchBackend(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	up := m.ConnState() == Connected
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := m.backend.Ping(pingCtx)
		cancel()
		if err != nil {
			if up {
				m.logger.Warn("backend stopped responding", "err", err)
				m.HandleBackendStopped()
				up = false
			}
			continue
		}
		if !up {
			m.logger.Info("backend is back, recovering sessions")
			m.HandleBackendStarted(ctx)
			up = true
		}
	}
}
