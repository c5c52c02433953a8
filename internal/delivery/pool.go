// Package delivery is the Webhook Delivery service: a fixed worker pool
// that pops jobs from the delivery queue, POSTs a signed payload to the
// customer endpoint, classifies the response, and schedules a retry or
// records a terminal outcome.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/chainbridge/webhook-pipeline/pkg/repository"
	"github.com/chainbridge/webhook-pipeline/pkg/webhooksig"
)

// Config parameterizes a Pool.
type Config struct {
	WorkerCount    int
	MaxInflight    int
	PopTimeout     time.Duration
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// ChainNames maps chain_id to its human-readable name for the
	// outgoing payload's chain_name field.
	ChainNames map[string]string
}

// Pool is the fixed-size worker pool driving webhook delivery.
type Pool struct {
	cfg       Config
	bus       *eventbus.Bus
	analytics repository.AnalyticsRepository
	client    *http.Client
	logger    observability.Logger
	metrics   observability.MetricsClient

	sem chan struct{}
}

// New builds a Pool.
func New(cfg Config, bus *eventbus.Bus, analytics repository.AnalyticsRepository, logger observability.Logger, metrics observability.MetricsClient) *Pool {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 10
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = 1000
	}
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 2 * time.Second
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 5 * time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = time.Hour
	}

	return &Pool{
		cfg:       cfg,
		bus:       bus,
		analytics: analytics,
		client:    &http.Client{},
		logger:    logger,
		metrics:   metrics,
		sem:       make(chan struct{}, cfg.MaxInflight),
	}
}

// Run starts cfg.WorkerCount workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.cfg.WorkerCount; i++ {
		go p.worker(ctx, done, i)
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		<-done
	}
}

func (p *Pool) worker(ctx context.Context, done chan<- struct{}, id int) {
	defer func() { done <- struct{}{} }()
	logger := p.logger.WithPrefix(fmt.Sprintf("worker[%d]", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.bus.BlockingPop(ctx, p.cfg.PopTimeout)
		if err != nil {
			if err == eventbus.ErrNoJob {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("failed to pop delivery job", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}

		p.sem <- struct{}{}
		p.deliver(ctx, job)
		<-p.sem
	}
}

// deliver performs exactly one HTTP attempt for job and advances its
// state: Delivered (terminal), Failed (terminal), or Retrying
// (rescheduled onto the retry sorted-set).
func (p *Pool) deliver(ctx context.Context, job models.DeliveryJob) {
	ctx, span := observability.StartSpan(ctx, "delivery", "deliver")
	defer span.End()

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, eventID, err := buildPayload(job, p.cfg.ChainNames[job.Event.ChainID])
	if err != nil {
		p.logger.Error("failed to build payload", map[string]interface{}{"error": err.Error()})
		return
	}

	start := time.Now()
	statusCode, attemptErr := p.post(reqCtx, job, body, eventID)
	duration := time.Since(start)

	outcome, retryDelay := classify(job, statusCode, attemptErr, p.cfg.BaseRetryDelay, p.cfg.MaxRetryDelay)

	errMessage := ""
	if attemptErr != nil {
		errMessage = truncate(attemptErr.Error(), 1024)
	}

	p.recordAttempt(ctx, job, statusCode, outcome, errMessage, duration)

	switch outcome {
	case models.OutcomeRetryScheduled:
		next := job
		next.Attempt++
		if err := p.bus.ScheduleRetry(ctx, next, time.Now().Add(retryDelay)); err != nil {
			p.logger.Error("failed to schedule retry", map[string]interface{}{"endpoint_id": job.EndpointID.String(), "error": err.Error()})
		}
	case models.OutcomeExhausted:
		chainID := job.Event.ChainID
		if err := p.bus.PushDLQ(ctx, chainID, job); err != nil {
			p.logger.Error("failed to push exhausted job to dlq", map[string]interface{}{"error": err.Error()})
		}
	}

	p.metrics.IncrementCounterWithLabels("delivery_attempts_total", 1, map[string]string{
		"outcome": string(outcome),
		"chain_id": job.Event.ChainID,
	})
}

// post sends the signed HTTP POST and returns the response status code
// (0 for a network-level failure) and any error encountered.
func (p *Pool) post(ctx context.Context, job models.DeliveryJob, body []byte, eventID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooksig.HeaderName, webhooksig.Sign([]byte(job.HMACSecret), body))
	req.Header.Set("X-Webhook-Event-Id", eventID)
	req.Header.Set("X-Webhook-Delivery-Attempt", strconv.Itoa(job.Attempt))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Chain-Id", job.Event.ChainID)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}

func (p *Pool) recordAttempt(ctx context.Context, job models.DeliveryJob, statusCode int, outcome models.DeliveryOutcome, errMessage string, duration time.Duration) {
	attempt := models.DeliveryAttempt{
		ID:             uuid.New(),
		EndpointID:     job.EndpointID,
		ChainID:        job.Event.ChainID,
		TxHash:         job.Event.TxHash,
		LogIndex:       job.Event.LogIndex,
		Attempt:        job.Attempt,
		StatusCode:     statusCode,
		Outcome:        outcome,
		ErrorMessage:   errMessage,
		DurationMillis: duration.Milliseconds(),
		AttemptedAt:    time.Now(),
	}

	// A transient analytics-write failure must never trigger a duplicate
	// HTTP POST, so this gets its own small, bounded retry loop rather
	// than propagating back into the delivery state machine.
	const maxAttempts = 3
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = p.analytics.RecordDeliveryAttempt(ctx, attempt); err == nil {
			return
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	p.logger.Error("analytics write failed after retries", map[string]interface{}{"endpoint_id": job.EndpointID.String(), "error": err.Error()})
}

// classify implements the response state machine from the delivery spec:
// 2xx terminal-success; 4xx (other than 408/425/429) terminal-failure;
// 408/425/429/5xx/network-error retry until max_retries is exhausted.
func classify(job models.DeliveryJob, statusCode int, attemptErr error, baseDelay, maxDelay time.Duration) (models.DeliveryOutcome, time.Duration) {
	retryable := attemptErr != nil || statusCode == 408 || statusCode == 425 || statusCode == 429 || statusCode >= 500

	if statusCode >= 200 && statusCode < 300 {
		return models.OutcomeSuccess, 0
	}
	if !retryable {
		return models.OutcomeTerminalFailure, 0
	}
	if job.Attempt >= maxRetries(job) {
		return models.OutcomeExhausted, 0
	}
	return models.OutcomeRetryScheduled, nextDelay(job.Attempt, baseDelay, maxDelay)
}

func maxRetries(job models.DeliveryJob) int {
	if job.MaxRetries <= 0 {
		return 5
	}
	return job.MaxRetries
}

// nextDelay computes min(base * 2^(attempt-1), max) with +/-20% jitter.
func nextDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if float64(max) < delay {
		delay = float64(max)
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(delay * jitter)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func buildPayload(job models.DeliveryJob, chainName string) ([]byte, string, error) {
	eventID := fmt.Sprintf("%s:%s:%d", job.Event.ChainID, job.Event.TxHash, job.Event.LogIndex)

	var chainID interface{} = job.Event.ChainID
	if n, err := strconv.ParseUint(job.Event.ChainID, 10, 64); err == nil {
		chainID = n
	}

	payload := map[string]interface{}{
		"event_id":         eventID,
		"chain_id":         chainID,
		"chain_name":       chainName,
		"block_number":     job.Event.BlockNumber,
		"block_hash":       job.Event.BlockHash,
		"transaction_hash": job.Event.TxHash,
		"log_index":        job.Event.LogIndex,
		"contract_address": job.Event.ContractAddress,
		"topics":           job.Event.Topics,
		"data":             job.Event.Data,
		"timestamp":        job.Event.IngestedAt.Unix(),
	}
	body, err := json.Marshal(payload)
	return body, eventID, err
}
