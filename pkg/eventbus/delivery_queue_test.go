package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func TestPushJobAndBlockingPop(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	job := models.DeliveryJob{ID: uuid.New(), URL: "https://example.com/hook"}
	require.NoError(t, bus.PushJob(ctx, job))

	popped, err := bus.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, popped.ID)
	assert.Equal(t, job.URL, popped.URL)
}

func TestBlockingPopReturnsErrNoJob(t *testing.T) {
	bus := newTestBus(t)
	_, err := bus.BlockingPop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestScheduleRetryAndDueRetries(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	job := models.DeliveryJob{ID: uuid.New(), URL: "https://example.com/hook"}
	require.NoError(t, bus.ScheduleRetry(ctx, job, time.Now().Add(-time.Second)))

	moved, err := bus.DueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	popped, err := bus.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, popped.ID)
}

func TestDueRetriesSkipsNotYetDue(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	job := models.DeliveryJob{ID: uuid.New()}
	require.NoError(t, bus.ScheduleRetry(ctx, job, time.Now().Add(time.Hour)))

	moved, err := bus.DueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestPushDLQ(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, bus.PushDLQ(ctx, "1", models.DeliveryJob{ID: uuid.New()}))

	n, err := bus.Client().LLen(ctx, DLQName("1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPushRawDLQCarriesOriginalFields(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	values := map[string]interface{}{"chain_id": "1", "tx_hash": "0xbad"}
	require.NoError(t, bus.PushRawDLQ(ctx, "1", "12345-0", values))

	res, err := bus.Client().LPop(ctx, DLQName("1")).Result()
	require.NoError(t, err)
	assert.Contains(t, res, "12345-0")
	assert.Contains(t, res, "0xbad")
}
