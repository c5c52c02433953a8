package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamMessage is the envelope published to the per-chain Redis stream
// by the Event Ingestor and consumed by the Message Processor.
type StreamMessage struct {
	ChainID         string    `json:"chain_id"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	TxHash          string    `json:"tx_hash"`
	LogIndex        int       `json:"log_index"`
	ContractAddress string    `json:"contract_address"`
	Topics          []string  `json:"topics"`
	Data            string    `json:"data"`
	EventSignature  string    `json:"event_signature"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// DedupID returns the identity this message is deduplicated on.
func (m StreamMessage) DedupID() DedupKey {
	return DedupKey{ChainID: m.ChainID, TxHash: m.TxHash, LogIndex: m.LogIndex}
}

// DeliveryJob is a matched (event, endpoint) pair queued for HTTP delivery.
type DeliveryJob struct {
	ID             uuid.UUID     `json:"id"`
	EndpointID     uuid.UUID     `json:"endpoint_id"`
	URL            string        `json:"url"`
	HMACSecret     string        `json:"hmac_secret"`
	Event          StreamMessage `json:"event"`
	Attempt        int           `json:"attempt"`
	MaxRetries     int           `json:"max_retries"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
}

// DeliveryOutcome classifies the terminal result of one delivery attempt.
type DeliveryOutcome string

const (
	OutcomeSuccess         DeliveryOutcome = "success"
	OutcomeRetryScheduled  DeliveryOutcome = "retry_scheduled"
	OutcomeTerminalFailure DeliveryOutcome = "terminal_failure"
	OutcomeExhausted       DeliveryOutcome = "retries_exhausted"
)

// DeliveryAttempt is the append-only analytics record of one HTTP POST.
type DeliveryAttempt struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	EndpointID      uuid.UUID       `db:"endpoint_id" json:"endpoint_id"`
	ChainID         string          `db:"chain_id" json:"chain_id"`
	TxHash          string          `db:"tx_hash" json:"tx_hash"`
	LogIndex        int             `db:"log_index" json:"log_index"`
	Attempt         int             `db:"attempt" json:"attempt"`
	StatusCode      int             `db:"status_code" json:"status_code"`
	Outcome         DeliveryOutcome `db:"outcome" json:"outcome"`
	ErrorMessage    string          `db:"error_message" json:"error_message,omitempty"`
	DurationMillis  int64           `db:"duration_millis" json:"duration_millis"`
	AttemptedAt     time.Time       `db:"attempted_at" json:"attempted_at"`
}
