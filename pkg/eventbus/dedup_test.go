package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func TestMarkSeenClaimsOnce(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	key := models.DedupKey{ChainID: "1", TxHash: "0xabc", LogIndex: 0}

	claimed, err := bus.MarkSeen(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = bus.MarkSeen(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMarkSeenDistinguishesLogIndex(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	claimedA, err := bus.MarkSeen(ctx, models.DedupKey{ChainID: "1", TxHash: "0xabc", LogIndex: 0}, time.Minute)
	require.NoError(t, err)
	claimedB, err := bus.MarkSeen(ctx, models.DedupKey{ChainID: "1", TxHash: "0xabc", LogIndex: 1}, time.Minute)
	require.NoError(t, err)

	assert.True(t, claimedA)
	assert.True(t, claimedB)
}
