// Package ingestor runs one ChainMonitor per configured chain: it holds a
// WebSocket JSON-RPC connection open, walks new blocks as they arrive,
// deduplicates their log entries, and publishes them onto the chain's
// Redis stream.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/chainbridge/webhook-pipeline/pkg/resilience"
	"github.com/chainbridge/webhook-pipeline/pkg/rpcclient"
)

// Config parameterizes one ChainMonitor.
type Config struct {
	Chain            models.Chain
	DedupTTL         time.Duration
	StreamMaxLen     int64
	HandshakeTimeout time.Duration
	HeartbeatIdle    time.Duration
}

// ChainMonitor owns the WebSocket connection and ingestion loop for a
// single chain. Its failures never propagate to other chains: the
// top-level manager restarts a crashed monitor independently.
type ChainMonitor struct {
	cfg     Config
	bus     *eventbus.Bus
	logger  observability.Logger
	metrics observability.MetricsClient
	breaker *resilience.CircuitBreaker
}

// NewChainMonitor wires a monitor for one chain.
func NewChainMonitor(cfg Config, bus *eventbus.Bus, logger observability.Logger, metrics observability.MetricsClient) *ChainMonitor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HeartbeatIdle == 0 {
		cfg.HeartbeatIdle = 60 * time.Second
	}

	breaker := resilience.NewCircuitBreaker(cfg.Chain.ID, resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Second,
		MaxResetTimeout:  60 * time.Second,
		SuccessThreshold: 1,
		TimeoutThreshold: cfg.HandshakeTimeout,
	}, logger.WithPrefix(fmt.Sprintf("chain[%s]", cfg.Chain.ID)), metrics)

	return &ChainMonitor{
		cfg:     cfg,
		bus:     bus,
		logger:  logger.WithPrefix(fmt.Sprintf("chain[%s]", cfg.Chain.ID)),
		metrics: metrics,
		breaker: breaker,
	}
}

// Run drives the reconnect loop until ctx is cancelled.
func (m *ChainMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, err := m.breaker.Execute(ctx, func() (interface{}, error) {
			return nil, m.connectAndListen(ctx)
		})
		if err != nil {
			m.logger.Warn("chain monitor cycle ended", map[string]interface{}{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// connectAndListen opens one WebSocket connection, subscribes to new
// heads, and processes notifications until the connection drops or ctx
// is cancelled. Its return is the signal the breaker uses to count a
// success/failure for this connection attempt.
func (m *ChainMonitor) connectAndListen(ctx context.Context) error {
	client, err := rpcclient.Dial(ctx, m.cfg.Chain.WebSocketURL, m.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := client.Subscribe(ctx, "newHeads"); err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}
	m.logger.Info("subscribed to newHeads", nil)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	idleTimer := time.NewTimer(m.cfg.HeartbeatIdle)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-idleTimer.C:
			return fmt.Errorf("no messages within heartbeat idle window")

		case <-heartbeat.C:
			m.metrics.RecordGauge("ingestor_chain_connected", 1, map[string]string{"chain_id": m.cfg.Chain.ID})

		case notif, ok := <-client.Notifications:
			if !ok {
				return fmt.Errorf("connection closed")
			}
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(m.cfg.HeartbeatIdle)

			if err := m.handleHead(ctx, client, notif); err != nil {
				m.logger.Warn("failed to process head", map[string]interface{}{"error": err.Error()})
				m.metrics.IncrementCounterWithLabels("ingestor_head_errors_total", 1, map[string]string{"chain_id": m.cfg.Chain.ID})
			}
		}
	}
}

type newHeadResult struct {
	Number string `json:"number"`
	Hash   string `json:"hash"`
}

// handleHead fetches the full block and its receipts, projects every
// receipt log into a RawEvent, and publishes each deduplicated event.
func (m *ChainMonitor) handleHead(ctx context.Context, client *rpcclient.Client, notif rpcclient.Notification) error {
	ctx, span := observability.StartSpan(ctx, "ingestor", "handle_head")
	defer span.End()

	var head newHeadResult
	if err := json.Unmarshal(notif.Result, &head); err != nil {
		return fmt.Errorf("decode newHeads result: %w", err)
	}

	var block rpcBlock
	if err := client.Call(ctx, "eth_getBlockByNumber", []interface{}{head.Number, true}, &block); err != nil {
		return fmt.Errorf("eth_getBlockByNumber: %w", err)
	}

	blockNumber, err := hexToUint64(block.Number)
	if err != nil {
		return fmt.Errorf("parse block number: %w", err)
	}
	blockTimestamp, err := hexToUint64(block.Timestamp)
	if err != nil {
		return fmt.Errorf("parse block timestamp: %w", err)
	}
	ts := time.Unix(int64(blockTimestamp), 0).UTC()

	for _, tx := range block.Transactions {
		var receipt rpcReceipt
		if err := client.Call(ctx, "eth_getTransactionReceipt", []interface{}{tx.Hash}, &receipt); err != nil {
			m.logger.Warn("failed to fetch receipt", map[string]interface{}{"tx_hash": tx.Hash, "error": err.Error()})
			continue
		}
		for _, log := range receipt.Logs {
			event, err := m.projectLog(block, blockNumber, ts, log)
			if err != nil {
				m.logger.Warn("failed to project log", map[string]interface{}{"error": err.Error()})
				continue
			}
			if err := m.publish(ctx, event); err != nil {
				m.logger.Error("failed to publish event", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return nil
}

func (m *ChainMonitor) projectLog(block rpcBlock, blockNumber uint64, ts time.Time, log rpcLog) (models.StreamMessage, error) {
	logIndex, err := hexToUint64(log.LogIndex)
	if err != nil {
		return models.StreamMessage{}, fmt.Errorf("parse log index: %w", err)
	}

	eventSig := ""
	if len(log.Topics) > 0 {
		eventSig = strings.ToLower(log.Topics[0])
	}

	return models.StreamMessage{
		ChainID:         m.cfg.Chain.ID,
		BlockNumber:     blockNumber,
		BlockHash:       block.Hash,
		TxHash:          log.TransactionHash,
		LogIndex:        int(logIndex),
		ContractAddress: strings.ToLower(log.Address),
		Topics:          log.Topics,
		Data:            log.Data,
		EventSignature:  eventSig,
		IngestedAt:      ts,
	}, nil
}

// publish deduplicates and, if this is the first sighting, XADDs the
// event onto its chain stream, retrying the publish itself up to 3
// times locally before dropping and counting.
func (m *ChainMonitor) publish(ctx context.Context, event models.StreamMessage) error {
	claimed, err := m.bus.MarkSeen(ctx, event.DedupID(), m.cfg.DedupTTL)
	if err != nil {
		// Resource-kind failure: fail closed, never publish on a dedup-store
		// outage, to avoid a duplicate storm once it recovers.
		m.metrics.IncrementCounterWithLabels("ingestor_dedup_errors_total", 1, map[string]string{"chain_id": m.cfg.Chain.ID})
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if !claimed {
		m.metrics.IncrementCounterWithLabels("ingestor_duplicates_total", 1, map[string]string{"chain_id": m.cfg.Chain.ID})
		return nil
	}

	topicsJSON, err := json.Marshal(event.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	values := map[string]interface{}{
		"chain_id":         event.ChainID,
		"block_number":     strconv.FormatUint(event.BlockNumber, 10),
		"block_hash":       event.BlockHash,
		"tx_hash":          event.TxHash,
		"log_index":        strconv.Itoa(event.LogIndex),
		"contract_address": event.ContractAddress,
		"topics":           string(topicsJSON),
		"data":             event.Data,
		"event_signature":  event.EventSignature,
		"ingested_at":      event.IngestedAt.Format(time.RFC3339),
	}

	stream := eventbus.StreamName(event.ChainID)
	operation := func() error {
		_, err := m.bus.AddToStream(ctx, stream, m.cfg.StreamMaxLen, values)
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 3)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		m.metrics.IncrementCounterWithLabels("ingestor_publish_dropped_total", 1, map[string]string{"chain_id": event.ChainID})
		return fmt.Errorf("publish dropped after retries: %w", err)
	}
	m.metrics.IncrementCounterWithLabels("ingestor_events_published_total", 1, map[string]string{"chain_id": event.ChainID})
	return nil
}

func hexToUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}
