package supervisor

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/moor/internal/logger"
)

// DefaultMonitorInterval is the wait between monitoring passes.
const DefaultMonitorInterval = 2 * time.Second

// Monitor runs the supervisor's crash-detection pass on a fixed cadence,
// independent of the proxy request path.
type Monitor struct {
	sup      *Supervisor
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewMonitor creates a monitor ticking every interval.
func NewMonitor(sup *Supervisor, log logger.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		sup:      sup,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic monitoring loop.
func (m *Monitor) Start(ctx context.Context) error {
	// Run immediately on start so crashes during boot are caught early.
	m.sup.CheckOnce(ctx)

	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sup.CheckOnce(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the monitoring loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}
