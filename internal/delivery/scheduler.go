package delivery

import (
	"context"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
)

// Scheduler periodically moves due entries from the retry sorted-set
// onto the delivery queue.
type Scheduler struct {
	bus      *eventbus.Bus
	logger   observability.Logger
	tick     time.Duration
	batch    int64
}

// NewScheduler builds a Scheduler that ticks every interval, moving up
// to batch jobs per tick.
func NewScheduler(bus *eventbus.Bus, logger observability.Logger, interval time.Duration, batch int64) *Scheduler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if interval == 0 {
		interval = 200 * time.Millisecond
	}
	if batch == 0 {
		batch = 500
	}
	return &Scheduler{bus: bus, logger: logger, tick: interval, batch: batch}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.bus.DueRetries(ctx, time.Now(), s.batch)
			if err != nil {
				s.logger.Warn("retry sweep failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				s.logger.Debug("moved due retries to delivery queue", map[string]interface{}{"count": n})
			}
		}
	}
}
