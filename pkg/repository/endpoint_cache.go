package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
)

// EndpointCache is the Message Processor's in-process read model of the
// active Endpoint set. It refreshes on a timer rather than per-event so
// the hot matching path never blocks on Postgres; a refresh failure just
// leaves the previous snapshot in place and retries on the next tick.
type EndpointCache struct {
	repo   EndpointRepository
	logger observability.Logger

	mu      sync.RWMutex
	byID    *lru.Cache[uuid.UUID, *models.Endpoint]
	all     []*models.Endpoint
	version uint64
}

// NewEndpointCache creates a cache backed by repo, sized for at most
// maxEntries distinct endpoints in the byID lookup index.
func NewEndpointCache(repo EndpointRepository, logger observability.Logger, maxEntries int) (*EndpointCache, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	byID, err := lru.New[uuid.UUID, *models.Endpoint](maxEntries)
	if err != nil {
		return nil, err
	}
	return &EndpointCache{repo: repo, logger: logger, byID: byID}, nil
}

// Refresh reloads the snapshot from Postgres. Call it once at startup and
// then on a ticker from the owning service.
func (c *EndpointCache) Refresh(ctx context.Context) error {
	active, err := c.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.all = active
	c.byID.Purge()
	for _, e := range active {
		c.byID.Add(e.ID, e)
	}
	c.version++
	c.mu.Unlock()

	c.logger.Debug("endpoint cache refreshed", map[string]interface{}{"count": len(active)})
	return nil
}

// Loop refreshes the cache every interval until ctx is cancelled.
func (c *EndpointCache) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("endpoint cache refresh failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// MatchAll returns every active endpoint whose filter admits the given event.
func (c *EndpointCache) MatchAll(chainID, contractAddress, eventSignature string) []*models.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []*models.Endpoint
	for _, e := range c.all {
		if e.Matches(chainID, contractAddress, eventSignature) {
			matches = append(matches, e)
		}
	}
	return matches
}

// Get returns a single endpoint by ID from the cached snapshot.
func (c *EndpointCache) Get(id uuid.UUID) (*models.Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID.Get(id)
}

// Version reports the current snapshot generation, incremented on every Refresh.
func (c *EndpointCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
