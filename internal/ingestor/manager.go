package ingestor

import (
	"context"
	"sync"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
)

// Manager owns one ChainMonitor per configured chain and runs them
// independently: a crash or reconnect storm on one chain never touches
// another's goroutine.
type Manager struct {
	monitors []*ChainMonitor
	logger   observability.Logger
}

// NewManager builds a Manager with one ChainMonitor per chain.
func NewManager(chains []models.Chain, dedupTTL time.Duration, streamMaxLen int64, bus *eventbus.Bus, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	monitors := make([]*ChainMonitor, 0, len(chains))
	for _, chain := range chains {
		if !chain.Enabled {
			continue
		}
		monitors = append(monitors, NewChainMonitor(Config{
			Chain:        chain,
			DedupTTL:     dedupTTL,
			StreamMaxLen: streamMaxLen,
		}, bus, logger, metrics))
	}
	return &Manager{monitors: monitors, logger: logger}
}

// Run starts every chain monitor, restarts a monitor that panics after a
// one-second pause, and blocks until ctx is cancelled and all monitors
// have returned.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, monitor := range m.monitors {
		wg.Add(1)
		go func(mon *ChainMonitor) {
			defer wg.Done()
			for ctx.Err() == nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							m.logger.Error("chain monitor panicked, restarting", map[string]interface{}{"chain_id": mon.cfg.Chain.ID, "panic": r})
							time.Sleep(time.Second)
						}
					}()
					mon.Run(ctx)
				}()
			}
		}(monitor)
	}
	m.logger.Info("ingestor manager started", map[string]interface{}{"chains": len(m.monitors)})
	wg.Wait()
}
