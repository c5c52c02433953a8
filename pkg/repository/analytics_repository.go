package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

// AnalyticsRepository is the append-only log of ingested events and
// delivery attempts. Writes here are best-effort: a failure here must
// never block or fail the pipeline's core delivery path, so callers
// should log and continue rather than propagate these errors upward.
type AnalyticsRepository interface {
	// RecordRawEvent idempotently records an ingested event, keyed on
	// (chain_id, tx_hash, log_index). A duplicate insert is a silent no-op.
	RecordRawEvent(ctx context.Context, e models.RawEvent) error
	RecordDeliveryAttempt(ctx context.Context, a models.DeliveryAttempt) error
}

type analyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository creates a Postgres-backed AnalyticsRepository.
func NewAnalyticsRepository(db *sqlx.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

type dbRawEvent struct {
	ChainID         string         `db:"chain_id"`
	BlockNumber     uint64         `db:"block_number"`
	BlockHash       string         `db:"block_hash"`
	TxHash          string         `db:"tx_hash"`
	LogIndex        int            `db:"log_index"`
	ContractAddress string         `db:"contract_address"`
	Topics          pq.StringArray `db:"topics"`
	Data            string         `db:"data"`
	EventSignature  string         `db:"event_signature"`
	IngestedAt      interface{}    `db:"ingested_at"`
}

// RecordRawEvent inserts e into ingested_events, doing nothing if the
// (chain_id, tx_hash, log_index) triple already exists.
func (r *analyticsRepository) RecordRawEvent(ctx context.Context, e models.RawEvent) error {
	row := dbRawEvent{
		ChainID:         e.ChainID,
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		TxHash:          e.TxHash,
		LogIndex:        e.LogIndex,
		ContractAddress: e.ContractAddress,
		Topics:          pq.StringArray(e.Topics),
		Data:            e.Data,
		EventSignature:  e.EventSignature,
		IngestedAt:      e.IngestedAt,
	}
	query := `
		INSERT INTO ingested_events
			(chain_id, block_number, block_hash, tx_hash, log_index, contract_address,
			 topics, data, event_signature, ingested_at)
		VALUES
			(:chain_id, :block_number, :block_hash, :tx_hash, :log_index, :contract_address,
			 :topics, :data, :event_signature, :ingested_at)
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrap(err, "failed to record ingested event")
	}
	return nil
}

// RecordDeliveryAttempt appends one delivery-attempt record. Every retry
// of the same job gets its own row, distinguished by Attempt.
func (r *analyticsRepository) RecordDeliveryAttempt(ctx context.Context, a models.DeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO delivery_attempts
			(id, endpoint_id, chain_id, tx_hash, log_index, attempt, status_code,
			 outcome, error_message, duration_millis, attempted_at)
		VALUES
			(:id, :endpoint_id, :chain_id, :tx_hash, :log_index, :attempt, :status_code,
			 :outcome, :error_message, :duration_millis, :attempted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return errors.Wrap(err, "failed to record delivery attempt")
	}
	return nil
}
