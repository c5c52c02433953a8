// Package processor consumes per-chain event streams, matches each
// RawEvent against the current Endpoint subscriptions, and enqueues a
// DeliveryJob for every match.
package processor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/chainbridge/webhook-pipeline/pkg/repository"
	"github.com/chainbridge/webhook-pipeline/pkg/resilience"
)

// Config parameterizes a Processor.
type Config struct {
	ChainIDs         []string
	ConsumerGroup    string
	Consumer         string
	BatchSize        int64
	BlockDuration    time.Duration
	ClaimMinIdleTime time.Duration
	ClaimInterval    time.Duration
	EndpointCacheTTL time.Duration
	MaxStreamRetries int
}

// Processor is the Message Processor service: it reads events, matches
// endpoints, and enqueues delivery work.
type Processor struct {
	cfg       Config
	bus       *eventbus.Bus
	cache     *repository.EndpointCache
	analytics repository.AnalyticsRepository
	limiters  *resilience.RateLimiterManager
	logger    observability.Logger
	metrics   observability.MetricsClient

	metadataBreaker *gobreaker.CircuitBreaker[struct{}]

	retryMu     sync.Mutex
	poisonCount map[string]int
}

// New builds a Processor.
func New(cfg Config, bus *eventbus.Bus, cache *repository.EndpointCache, analytics repository.AnalyticsRepository, logger observability.Logger, metrics observability.MetricsClient) *Processor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.ClaimMinIdleTime == 0 {
		cfg.ClaimMinIdleTime = 30 * time.Second
	}
	if cfg.ClaimInterval == 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.MaxStreamRetries == 0 {
		cfg.MaxStreamRetries = 3
	}
	if cfg.Consumer == "" {
		hostname, _ := uuid.NewRandom()
		cfg.Consumer = "processor-" + hostname.String()[:8]
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "metadata-store",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("metadata store breaker state changed", map[string]interface{}{"from": from.String(), "to": to.String()})
		},
	})

	return &Processor{
		cfg:             cfg,
		bus:             bus,
		cache:           cache,
		analytics:       analytics,
		limiters:        resilience.NewRateLimiterManager(resilience.RateLimiterConfig{}),
		logger:          logger,
		metrics:         metrics,
		metadataBreaker: breaker,
		poisonCount:     make(map[string]int),
	}
}

// Run starts the consumer groups, the cache refresh loop, the PEL reclaim
// loop, and the main read loop. It blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for _, chainID := range p.cfg.ChainIDs {
		stream := eventbus.StreamName(chainID)
		if err := p.bus.CreateConsumerGroup(ctx, stream, p.cfg.ConsumerGroup); err != nil {
			p.logger.Debug("consumer group already exists or creation failed", map[string]interface{}{"stream": stream, "error": err.Error()})
		}
	}

	if _, err := p.refreshCache(ctx); err != nil {
		p.logger.Warn("initial endpoint cache refresh failed", map[string]interface{}{"error": err.Error()})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.cacheRefreshLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	p.readLoop(ctx)
	wg.Wait()
	return nil
}

func (p *Processor) cacheRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.EndpointCacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.refreshCache(ctx); err != nil {
				p.logger.Warn("endpoint cache refresh failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (p *Processor) refreshCache(ctx context.Context) (struct{}, error) {
	return p.metadataBreaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.cache.Refresh(ctx)
	})
}

func (p *Processor) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, chainID := range p.cfg.ChainIDs {
				p.reclaimPending(ctx, chainID)
			}
		}
	}
}

func (p *Processor) reclaimPending(ctx context.Context, chainID string) {
	stream := eventbus.StreamName(chainID)
	ids, err := p.bus.PendingOlderThan(ctx, stream, p.cfg.ConsumerGroup, p.cfg.ClaimMinIdleTime, p.cfg.BatchSize)
	if err != nil {
		p.logger.Warn("pel scan failed", map[string]interface{}{"chain_id": chainID, "error": err.Error()})
		return
	}
	if len(ids) == 0 {
		return
	}
	messages, err := p.bus.Claim(ctx, stream, p.cfg.ConsumerGroup, p.cfg.Consumer, p.cfg.ClaimMinIdleTime, ids)
	if err != nil {
		p.logger.Warn("pel claim failed", map[string]interface{}{"chain_id": chainID, "error": err.Error()})
		return
	}
	for _, msg := range messages {
		p.handleMessage(ctx, stream, chainID, msg)
	}
}

func (p *Processor) readLoop(ctx context.Context) {
	streams := make([]string, 0, len(p.cfg.ChainIDs))
	chainByStream := make(map[string]string, len(p.cfg.ChainIDs))
	for _, chainID := range p.cfg.ChainIDs {
		s := eventbus.StreamName(chainID)
		streams = append(streams, s)
		chainByStream[s] = chainID
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.metadataBreaker.State() == gobreaker.StateOpen {
			// Metadata store is unavailable: do not advance the pipeline.
			// Sleep and retry rather than ack anything blind.
			time.Sleep(time.Second)
			continue
		}

		results, err := p.bus.ReadGroup(ctx, p.cfg.ConsumerGroup, p.cfg.Consumer, streams, p.cfg.BatchSize, p.cfg.BlockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("stream read failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}

		for _, xs := range results {
			chainID := chainByStream[xs.Stream]
			for _, msg := range xs.Messages {
				p.handleMessage(ctx, xs.Stream, chainID, msg)
			}
		}
	}
}

// handleMessage parses, matches, enqueues, and analytics-logs one
// stream entry, only acking once every matched job has been enqueued or
// deferred (an analytics-write failure is logged and does not block the
// ack). A malformed entry is never acked here; it is quarantined to the
// DLQ once it has failed more than MaxStreamRetries times.
func (p *Processor) handleMessage(ctx context.Context, stream, chainID string, msg redis.XMessage) {
	ctx, span := observability.StartSpan(ctx, "processor", "handle_message")
	defer span.End()

	event, err := parseStreamMessage(chainID, msg.Values)
	if err != nil {
		p.logger.Error("malformed stream message", map[string]interface{}{"stream": stream, "id": msg.ID, "error": err.Error()})
		if p.bumpPoison(msg.ID) > p.cfg.MaxStreamRetries {
			p.quarantine(ctx, chainID, msg.ID, msg.Values)
		}
		return
	}

	endpoints := p.cache.MatchAll(event.ChainID, event.ContractAddress, event.EventSignature)

	allEnqueued := true
	for _, ep := range endpoints {
		job := models.DeliveryJob{
			ID:             uuid.New(),
			EndpointID:     ep.ID,
			URL:            ep.URL,
			HMACSecret:     ep.HMACSecret,
			Event:          event,
			Attempt:        1,
			MaxRetries:     ep.MaxRetries,
			TimeoutSeconds: ep.TimeoutSeconds,
			EnqueuedAt:     time.Now(),
		}

		if !p.limiters.Allow(ep.ID.String(), ep.RateLimitPerSec) {
			if err := p.bus.ScheduleRetry(ctx, job, time.Now().Add(time.Second)); err != nil {
				p.logger.Error("failed to defer rate-limited job", map[string]interface{}{"endpoint_id": ep.ID.String(), "error": err.Error()})
				allEnqueued = false
			}
			continue
		}

		if err := p.bus.PushJob(ctx, job); err != nil {
			p.logger.Error("failed to enqueue delivery job", map[string]interface{}{"endpoint_id": ep.ID.String(), "error": err.Error()})
			allEnqueued = false
		}
	}

	if !allEnqueued {
		// Do not ack: a reclaim pass will retry this message.
		return
	}

	if err := p.analytics.RecordRawEvent(ctx, toRawEvent(event)); err != nil {
		p.logger.Error("analytics write failed, continuing", map[string]interface{}{"error": err.Error()})
	}

	if err := p.bus.Ack(ctx, stream, p.cfg.ConsumerGroup, msg.ID); err != nil {
		p.logger.Error("ack failed", map[string]interface{}{"stream": stream, "id": msg.ID, "error": err.Error()})
	}
	p.clearPoison(msg.ID)
}

func (p *Processor) bumpPoison(id string) int {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	p.poisonCount[id]++
	return p.poisonCount[id]
}

func (p *Processor) clearPoison(id string) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	delete(p.poisonCount, id)
}

func (p *Processor) quarantine(ctx context.Context, chainID, id string, values map[string]interface{}) {
	p.logger.Error("moving poison message to dlq", map[string]interface{}{"chain_id": chainID, "id": id})
	if err := p.bus.PushRawDLQ(ctx, chainID, id, values); err != nil {
		p.logger.Error("failed to push to dlq", map[string]interface{}{"chain_id": chainID, "error": err.Error()})
	}
	if err := p.bus.Ack(ctx, eventbus.StreamName(chainID), p.cfg.ConsumerGroup, id); err != nil {
		p.logger.Error("failed to ack quarantined message", map[string]interface{}{"chain_id": chainID, "error": err.Error()})
	}
	p.clearPoison(id)
}

func toRawEvent(m models.StreamMessage) models.RawEvent {
	return models.RawEvent{
		ChainID:         m.ChainID,
		BlockNumber:     m.BlockNumber,
		BlockHash:       m.BlockHash,
		TxHash:          m.TxHash,
		LogIndex:        m.LogIndex,
		ContractAddress: m.ContractAddress,
		Topics:          m.Topics,
		Data:            m.Data,
		EventSignature:  m.EventSignature,
		IngestedAt:      m.IngestedAt,
	}
}

func parseStreamMessage(chainID string, values map[string]interface{}) (models.StreamMessage, error) {
	get := func(k string) string {
		v, _ := values[k].(string)
		return v
	}

	blockNumber, err := strconv.ParseUint(get("block_number"), 10, 64)
	if err != nil {
		return models.StreamMessage{}, fmt.Errorf("parse block_number: %w", err)
	}
	logIndex, err := strconv.Atoi(get("log_index"))
	if err != nil {
		return models.StreamMessage{}, fmt.Errorf("parse log_index: %w", err)
	}
	ingestedAt, err := time.Parse(time.RFC3339, get("ingested_at"))
	if err != nil {
		return models.StreamMessage{}, fmt.Errorf("parse ingested_at: %w", err)
	}
	var topics []string
	if raw := get("topics"); raw != "" {
		if err := jsonUnmarshalTopics(raw, &topics); err != nil {
			return models.StreamMessage{}, fmt.Errorf("parse topics: %w", err)
		}
	}

	return models.StreamMessage{
		ChainID:         chainID,
		BlockNumber:     blockNumber,
		BlockHash:       get("block_hash"),
		TxHash:          get("tx_hash"),
		LogIndex:        logIndex,
		ContractAddress: get("contract_address"),
		Topics:          topics,
		Data:            get("data"),
		EventSignature:  get("event_signature"),
		IngestedAt:      ingestedAt,
	}, nil
}
