// Package repository is the metadata store (Users, Applications,
// Endpoints) and the append-only analytics log (ingested events, delivery
// attempts), both backed by Postgres via sqlx.
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

// EndpointRepository is the metadata-store interface the Message
// Processor's matching step, and the Admin API, read and write through.
type EndpointRepository interface {
	// ListActive returns every active endpoint, for the Processor's
	// in-process cache to snapshot.
	ListActive(ctx context.Context) ([]*models.Endpoint, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error)
	Create(ctx context.Context, e *models.Endpoint) error
	Update(ctx context.Context, e *models.Endpoint) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type endpointRepository struct {
	db *sqlx.DB
}

// NewEndpointRepository creates a Postgres-backed EndpointRepository.
func NewEndpointRepository(db *sqlx.DB) EndpointRepository {
	return &endpointRepository{db: db}
}

type dbEndpoint struct {
	ID                uuid.UUID      `db:"id"`
	ApplicationID     uuid.UUID      `db:"application_id"`
	URL               string         `db:"url"`
	HMACSecret        string         `db:"hmac_secret"`
	Active            bool           `db:"active"`
	ChainIDs          pq.StringArray `db:"chain_ids"`
	ContractAddresses pq.StringArray `db:"contract_addresses"`
	EventSignatures   pq.StringArray `db:"event_signatures"`
	RateLimitPerSec   int            `db:"rate_limit_per_second"`
	MaxRetries        int            `db:"max_retries"`
	TimeoutSeconds    int            `db:"timeout_seconds"`
	Description       string         `db:"description"`
	CreatedBy         uuid.UUID      `db:"created_by"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	UpdatedAt         sql.NullTime   `db:"updated_at"`
}

func (d dbEndpoint) toModel() *models.Endpoint {
	e := &models.Endpoint{
		ID:                d.ID,
		ApplicationID:     d.ApplicationID,
		URL:               d.URL,
		HMACSecret:        d.HMACSecret,
		Active:            d.Active,
		ChainIDs:          []string(d.ChainIDs),
		ContractAddresses: []string(d.ContractAddresses),
		EventSignatures:   []string(d.EventSignatures),
		RateLimitPerSec:   d.RateLimitPerSec,
		MaxRetries:        d.MaxRetries,
		TimeoutSeconds:    d.TimeoutSeconds,
		Description:       d.Description,
		CreatedBy:         d.CreatedBy,
	}
	if d.CreatedAt.Valid {
		e.CreatedAt = d.CreatedAt.Time
	}
	if d.UpdatedAt.Valid {
		e.UpdatedAt = d.UpdatedAt.Time
	}
	return e
}

const endpointColumns = `id, application_id, url, hmac_secret, active, chain_ids, contract_addresses,
	event_signatures, rate_limit_per_second, max_retries, timeout_seconds, description, created_by, created_at, updated_at`

// ListActive returns endpoints with active = true whose owning
// application is also active, per the matching-correctness invariant
// (an endpoint under a disabled application never matches).
func (r *endpointRepository) ListActive(ctx context.Context) ([]*models.Endpoint, error) {
	var rows []dbEndpoint
	query := `
		SELECT e.id, e.application_id, e.url, e.hmac_secret, e.active, e.chain_ids, e.contract_addresses,
			e.event_signatures, e.rate_limit_per_second, e.max_retries, e.timeout_seconds, e.description,
			e.created_by, e.created_at, e.updated_at
		FROM endpoints e
		JOIN applications a ON a.id = e.application_id
		WHERE e.active = true AND a.is_active = true`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list active endpoints")
	}
	out := make([]*models.Endpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// GetByID retrieves a single endpoint.
func (r *endpointRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	var row dbEndpoint
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "endpoint not found")
		}
		return nil, errors.Wrap(err, "failed to get endpoint")
	}
	return row.toModel(), nil
}

// Create inserts a new endpoint. Callers must have already minted
// e.HMACSecret server-side; this layer never generates or mutates it.
func (r *endpointRepository) Create(ctx context.Context, e *models.Endpoint) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := dbEndpoint{
		ID:                e.ID,
		ApplicationID:     e.ApplicationID,
		URL:               e.URL,
		HMACSecret:        e.HMACSecret,
		Active:            e.Active,
		ChainIDs:          pq.StringArray(e.ChainIDs),
		ContractAddresses: pq.StringArray(e.ContractAddresses),
		EventSignatures:   pq.StringArray(e.EventSignatures),
		RateLimitPerSec:   e.RateLimitPerSec,
		MaxRetries:        e.MaxRetries,
		TimeoutSeconds:    e.TimeoutSeconds,
		Description:       e.Description,
		CreatedBy:         e.CreatedBy,
	}
	query := `
		INSERT INTO endpoints
			(id, application_id, url, hmac_secret, active, chain_ids, contract_addresses,
			 event_signatures, rate_limit_per_second, max_retries, timeout_seconds, description, created_by)
		VALUES
			(:id, :application_id, :url, :hmac_secret, :active, :chain_ids, :contract_addresses,
			 :event_signatures, :rate_limit_per_second, :max_retries, :timeout_seconds, :description, :created_by)
		RETURNING created_at, updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, row)
	if err != nil {
		return errors.Wrap(err, "failed to create endpoint")
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
			return errors.Wrap(err, "failed to scan endpoint timestamps")
		}
	}
	return nil
}

// Update overwrites the mutable fields of an existing endpoint.
func (r *endpointRepository) Update(ctx context.Context, e *models.Endpoint) error {
	query := `
		UPDATE endpoints SET
			url = :url, active = :active, chain_ids = :chain_ids,
			contract_addresses = :contract_addresses, event_signatures = :event_signatures,
			rate_limit_per_second = :rate_limit_per_second, max_retries = :max_retries,
			timeout_seconds = :timeout_seconds, description = :description,
			updated_at = NOW()
		WHERE id = :id`
	row := dbEndpoint{
		ID:                e.ID,
		URL:               e.URL,
		Active:            e.Active,
		ChainIDs:          pq.StringArray(e.ChainIDs),
		ContractAddresses: pq.StringArray(e.ContractAddresses),
		EventSignatures:   pq.StringArray(e.EventSignatures),
		RateLimitPerSec:   e.RateLimitPerSec,
		MaxRetries:        e.MaxRetries,
		TimeoutSeconds:    e.TimeoutSeconds,
		Description:       e.Description,
	}
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrap(err, "failed to update endpoint")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.New("endpoint not found")
	}
	return nil
}

// Delete removes an endpoint.
func (r *endpointRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete endpoint")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.New("endpoint not found")
	}
	return nil
}
