package ingestor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func TestHexToUint64(t *testing.T) {
	cases := map[string]uint64{
		"0x0":      0,
		"0x10":     16,
		"0xff":     255,
		"":         0,
		"0x1b4":    436,
	}
	for in, want := range cases {
		got, err := hexToUint64(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestHexToUint64InvalidInput(t *testing.T) {
	_, err := hexToUint64("0xzz")
	assert.Error(t, err)
}

func TestProjectLogLowercasesAddressAndSignature(t *testing.T) {
	mon := &ChainMonitor{cfg: Config{Chain: models.Chain{ID: "1"}}}
	block := rpcBlock{Hash: "0xblockhash"}
	ts := time.Unix(1700000000, 0).UTC()

	log := rpcLog{
		Address:         "0xABCDEF0000000000000000000000000000000001",
		Topics:          []string{"0xDEADBEEF", "0x01"},
		Data:            "0x00",
		TransactionHash: "0xtx1",
		LogIndex:        "0x2",
	}

	event, err := mon.projectLog(block, 100, ts, log)
	require.NoError(t, err)

	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", event.ContractAddress)
	assert.Equal(t, "0xdeadbeef", event.EventSignature)
	assert.Equal(t, 2, event.LogIndex)
	assert.Equal(t, uint64(100), event.BlockNumber)
	assert.Equal(t, "0xblockhash", event.BlockHash)
}
