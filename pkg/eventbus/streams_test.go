package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	bus, err := New(Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestAddToStreamAndReadGroup(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	stream := StreamName("1")

	require.NoError(t, bus.CreateConsumerGroup(ctx, stream, "processor"))

	_, err := bus.AddToStream(ctx, stream, 1000, map[string]interface{}{"tx_hash": "0xabc"})
	require.NoError(t, err)

	results, err := bus.ReadGroup(ctx, "processor", "consumer-1", []string{stream}, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Messages, 1)
	require.Equal(t, "0xabc", results[0].Messages[0].Values["tx_hash"])

	require.NoError(t, bus.Ack(ctx, stream, "processor", results[0].Messages[0].ID))
}

func TestPendingOlderThanAndClaim(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	stream := StreamName("1")

	require.NoError(t, bus.CreateConsumerGroup(ctx, stream, "processor"))
	_, err := bus.AddToStream(ctx, stream, 1000, map[string]interface{}{"tx_hash": "0xabc"})
	require.NoError(t, err)

	results, err := bus.ReadGroup(ctx, "processor", "consumer-1", []string{stream}, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results[0].Messages, 1)

	ids, err := bus.PendingOlderThan(ctx, stream, "processor", 0, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	claimed, err := bus.Claim(ctx, stream, "processor", "consumer-2", 0, ids)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}
