package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamMessageRoundTrip(t *testing.T) {
	values := map[string]interface{}{
		"block_number":     "100",
		"block_hash":       "0xblock",
		"tx_hash":          "0xtx",
		"log_index":        "3",
		"contract_address": "0xabc",
		"topics":           `["0xsig","0x01"]`,
		"data":              "0x00",
		"event_signature":  "0xsig",
		"ingested_at":      "2026-01-01T00:00:00Z",
	}

	msg, err := parseStreamMessage("1", values)
	require.NoError(t, err)

	assert.Equal(t, "1", msg.ChainID)
	assert.Equal(t, uint64(100), msg.BlockNumber)
	assert.Equal(t, 3, msg.LogIndex)
	assert.Equal(t, []string{"0xsig", "0x01"}, msg.Topics)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), msg.IngestedAt)
}

func TestParseStreamMessageRejectsMissingFields(t *testing.T) {
	_, err := parseStreamMessage("1", map[string]interface{}{})
	assert.Error(t, err)
}

func TestPoisonCounterTracksPerMessage(t *testing.T) {
	p := &Processor{poisonCount: make(map[string]int)}

	assert.Equal(t, 1, p.bumpPoison("msg-1"))
	assert.Equal(t, 2, p.bumpPoison("msg-1"))
	assert.Equal(t, 1, p.bumpPoison("msg-2"))

	p.clearPoison("msg-1")
	assert.Equal(t, 1, p.bumpPoison("msg-1"))
}
