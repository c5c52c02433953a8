package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

// ApplicationRepository manages the Application entity a tenant's
// Endpoints belong to.
type ApplicationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Application, error)
	Create(ctx context.Context, app *models.Application) error
}

type applicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository creates a Postgres-backed ApplicationRepository.
func NewApplicationRepository(db *sqlx.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

// GetByID retrieves a single application.
func (r *applicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	query := `SELECT id, user_id, name, description, is_active, created_at, updated_at FROM applications WHERE id = $1`
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(err, "application not found")
		}
		return nil, errors.Wrap(err, "failed to get application")
	}
	return &app, nil
}

// ListByUser returns every application owned by userID.
func (r *applicationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Application, error) {
	var apps []*models.Application
	query := `SELECT id, user_id, name, description, is_active, created_at, updated_at FROM applications WHERE user_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &apps, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list applications")
	}
	return apps, nil
}

// Create inserts a new application.
func (r *applicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	query := `
		INSERT INTO applications (id, user_id, name, description)
		VALUES (:id, :user_id, :name, :description)
		RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, query, app)
	if err != nil {
		return errors.Wrap(err, "failed to create application")
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(&app.CreatedAt, &app.UpdatedAt); err != nil {
			return errors.Wrap(err, "failed to scan application timestamps")
		}
	}
	return nil
}
