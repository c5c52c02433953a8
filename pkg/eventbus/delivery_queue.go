package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	deliveryQueueKey = "delivery_queue"
	deliveryRetryKey = "delivery_retry"
)

// ErrNoJob is returned by BlockingPop when the wait elapses with nothing queued.
var ErrNoJob = errors.New("no delivery job available")

// PushJob enqueues job for immediate delivery.
func (b *Bus) PushJob(ctx context.Context, job models.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, deliveryQueueKey, data).Err()
}

// BlockingPop waits up to timeout for a job to arrive on delivery_queue.
func (b *Bus) BlockingPop(ctx context.Context, timeout time.Duration) (models.DeliveryJob, error) {
	res, err := b.client.BRPop(ctx, timeout, deliveryQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return models.DeliveryJob{}, ErrNoJob
	}
	if err != nil {
		return models.DeliveryJob{}, err
	}
	// BRPop returns [key, value]; the payload is res[1].
	var job models.DeliveryJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return models.DeliveryJob{}, err
	}
	return job, nil
}

// ScheduleRetry places job on the delivery_retry sorted set, scored by the
// unix-millisecond time it becomes due.
func (b *Bus) ScheduleRetry(ctx context.Context, job models.DeliveryJob, due time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.ZAdd(ctx, deliveryRetryKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err()
}

// DueRetries pops up to limit jobs whose retry time has passed and moves
// them onto delivery_queue, removing them from delivery_retry.
func (b *Bus) DueRetries(ctx context.Context, now time.Time, limit int64) (int64, error) {
	members, err := b.client.ZRangeByScore(ctx, deliveryRetryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := b.client.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, deliveryQueueKey, m)
		pipe.ZRem(ctx, deliveryRetryKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

// PushDLQ appends job to the chain's dead-letter list after retries are exhausted.
func (b *Bus) PushDLQ(ctx context.Context, chainID string, job models.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, DLQName(chainID), data).Err()
}

// PushRawDLQ appends a quarantined stream entry's own id and field values to
// the chain's dead-letter list, for entries that never parsed into a usable
// event and so have no DeliveryJob to carry.
func (b *Bus) PushRawDLQ(ctx context.Context, chainID, streamID string, values map[string]interface{}) error {
	data, err := json.Marshal(map[string]interface{}{
		"stream_id": streamID,
		"chain_id":  chainID,
		"values":    values,
	})
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, DLQName(chainID), data).Err()
}
