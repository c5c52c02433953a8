package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func newMockAnalyticsRepo(t *testing.T) (AnalyticsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAnalyticsRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAnalyticsRepositoryRecordRawEventIsIdempotent(t *testing.T) {
	repo, mock := newMockAnalyticsRepo(t)

	mock.ExpectExec("INSERT INTO ingested_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordRawEvent(t.Context(), models.RawEvent{
		ChainID:    "1",
		TxHash:     "0xabc",
		LogIndex:   0,
		IngestedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryRecordDeliveryAttemptWithoutID(t *testing.T) {
	repo, mock := newMockAnalyticsRepo(t)

	mock.ExpectExec("INSERT INTO delivery_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordDeliveryAttempt(t.Context(), models.DeliveryAttempt{
		EndpointID:  uuid.New(),
		ChainID:     "1",
		TxHash:      "0xabc",
		Attempt:     1,
		StatusCode:  200,
		Outcome:     models.OutcomeSuccess,
		AttemptedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
