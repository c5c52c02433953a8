// Package eventbus wraps Redis Streams, dedup keys, and the delivery
// scheduling structures (list + sorted set + DLQ) that connect the Event
// Ingestor, Message Processor, and Webhook Delivery services.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings shared by every service.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Bus wraps a redis.UniversalClient with the stream, dedup, list, and
// sorted-set operations the pipeline needs, plus a background health check
// the way the teacher's StreamsClient does.
type Bus struct {
	client redis.UniversalClient
	logger observability.Logger

	healthMu sync.RWMutex
	healthy  bool
}

// New connects to Redis and starts the health-check loop.
func New(cfg Config, logger observability.Logger) (*Bus, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	b := &Bus{client: client, logger: logger, healthy: true}
	go b.healthCheckLoop()
	return b, nil
}

func (b *Bus) healthCheckLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := b.client.Ping(ctx).Err()
		cancel()

		b.healthMu.Lock()
		b.healthy = err == nil
		b.healthMu.Unlock()

		if err != nil {
			b.logger.Error("redis health check failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// IsHealthy reports the result of the most recent health check.
func (b *Bus) IsHealthy() bool {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthy
}

// Close releases the underlying connection pool.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Client exposes the underlying client for operations this package doesn't wrap.
func (b *Bus) Client() redis.UniversalClient {
	return b.client
}

// StreamName returns the per-chain stream key: events:{chain_id}.
func StreamName(chainID string) string {
	return fmt.Sprintf("events:%s", chainID)
}

// DLQName returns the per-chain dead-letter list key: events:dlq:{chain_id}.
func DLQName(chainID string) string {
	return fmt.Sprintf("events:dlq:%s", chainID)
}

// AddToStream publishes values to the named stream, trimming it
// approximately to maxLen on every write so memory stays bounded without
// an exact (and expensive) trim on every call.
func (b *Bus) AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	res := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	})
	return res.Result()
}

// CreateConsumerGroup creates a consumer group for a stream, creating the
// stream itself if it doesn't exist yet.
func (b *Bus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	return b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
}

// ReadGroup reads up to count new, never-delivered messages for consumer in
// group; entries already pending are not returned here.
func (b *Bus) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]redis.XStream, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	return b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
}

// Ack acknowledges ids for stream/group.
func (b *Bus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return b.client.XAck(ctx, stream, group, ids...).Err()
}

// PendingOlderThan returns message IDs idle longer than minIdle, for PEL reclaim.
func (b *Bus) PendingOlderThan(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]string, error) {
	summary, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(summary))
	for _, p := range summary {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Claim reassigns the given pending message IDs to consumer.
func (b *Bus) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}
