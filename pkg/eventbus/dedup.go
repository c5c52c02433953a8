package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

// dedupKey renders a models.DedupKey as the Redis key the ingestor guards
// ingestion with: event:{chain_id}:{tx_hash}:{log_index}.
func dedupKey(k models.DedupKey) string {
	return fmt.Sprintf("event:%s:%s:%d", k.ChainID, k.TxHash, k.LogIndex)
}

// MarkSeen attempts to claim the dedup key for ttl and reports whether this
// call was the one that claimed it (true) or the key already existed
// (false, meaning the event has already been ingested).
func (b *Bus) MarkSeen(ctx context.Context, k models.DedupKey, ttl time.Duration) (claimed bool, err error) {
	return b.client.SetNX(ctx, dedupKey(k), 1, ttl).Result()
}
