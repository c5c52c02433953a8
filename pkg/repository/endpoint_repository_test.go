package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func newMockEndpointRepo(t *testing.T) (EndpointRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewEndpointRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestEndpointRepositoryListActiveJoinsApplications(t *testing.T) {
	repo, mock := newMockEndpointRepo(t)

	id := uuid.New()
	appID := uuid.New()
	createdBy := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "application_id", "url", "hmac_secret", "active", "chain_ids", "contract_addresses",
		"event_signatures", "rate_limit_per_second", "max_retries", "timeout_seconds", "description",
		"created_by", "created_at", "updated_at",
	}).AddRow(id, appID, "https://example.com/hook", "secret", true, pq.StringArray{"1"}, pq.StringArray{},
		pq.StringArray{}, 10, 5, 30, "", createdBy, now, now)

	mock.ExpectQuery("SELECT .* FROM endpoints e\\s+JOIN applications a ON a.id = e.application_id").
		WillReturnRows(rows)

	endpoints, err := repo.ListActive(t.Context())
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, id, endpoints[0].ID)
	assert.Equal(t, 5, endpoints[0].MaxRetries)
	assert.Equal(t, 30, endpoints[0].TimeoutSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEndpointRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock := newMockEndpointRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .* FROM endpoints WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(t.Context(), id)
	assert.Error(t, err)
}

func TestEndpointRepositoryCreateSetsTimestamps(t *testing.T) {
	repo, mock := newMockEndpointRepo(t)
	now := time.Now()

	e := &models.Endpoint{
		ApplicationID: uuid.New(),
		URL:           "https://example.com/hook",
		HMACSecret:    "secret",
		Active:        true,
		ChainIDs:      []string{"1"},
		MaxRetries:    5,
	}

	mock.ExpectQuery("INSERT INTO endpoints").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(t.Context(), e))
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEndpointRepositoryUpdateNotFoundErrors(t *testing.T) {
	repo, mock := newMockEndpointRepo(t)
	e := &models.Endpoint{ID: uuid.New()}

	mock.ExpectExec("UPDATE endpoints SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(t.Context(), e)
	assert.Error(t, err)
}

func TestEndpointRepositoryDelete(t *testing.T) {
	repo, mock := newMockEndpointRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM endpoints WHERE id = \\$1").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(t.Context(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}
