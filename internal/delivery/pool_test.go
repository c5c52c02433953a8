package delivery

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

func TestClassifySuccess(t *testing.T) {
	job := models.DeliveryJob{Attempt: 1, MaxRetries: 5}
	outcome, _ := classify(job, 200, nil, time.Second, time.Hour)
	assert.Equal(t, models.OutcomeSuccess, outcome)
}

func TestClassifyPermanentFailureNoRetry(t *testing.T) {
	job := models.DeliveryJob{Attempt: 1, MaxRetries: 5}
	outcome, delay := classify(job, 404, nil, time.Second, time.Hour)
	assert.Equal(t, models.OutcomeTerminalFailure, outcome)
	assert.Zero(t, delay)
}

func TestClassifyRetryableStatusSchedulesRetry(t *testing.T) {
	job := models.DeliveryJob{Attempt: 1, MaxRetries: 5}
	for _, code := range []int{408, 425, 429, 500, 503} {
		outcome, delay := classify(job, code, nil, 5*time.Second, time.Hour)
		assert.Equal(t, models.OutcomeRetryScheduled, outcome, "status %d should retry", code)
		assert.Greater(t, delay, time.Duration(0))
	}
}

func TestClassifyNetworkErrorRetries(t *testing.T) {
	job := models.DeliveryJob{Attempt: 1, MaxRetries: 5}
	outcome, _ := classify(job, 0, errors.New("dial timeout"), time.Second, time.Hour)
	assert.Equal(t, models.OutcomeRetryScheduled, outcome)
}

func TestClassifyExhaustedAtMaxRetries(t *testing.T) {
	job := models.DeliveryJob{Attempt: 5, MaxRetries: 5}
	outcome, _ := classify(job, 503, nil, time.Second, time.Hour)
	assert.Equal(t, models.OutcomeExhausted, outcome)
}

func TestNextDelayRespectsCeilingAndJitterBand(t *testing.T) {
	base := 5 * time.Second
	max := time.Hour

	delay := nextDelay(1, base, max)
	assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.8))
	assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.2))

	delay = nextDelay(20, base, max)
	assert.LessOrEqual(t, delay, time.Duration(float64(max)*1.2))
}

func TestBuildPayloadShape(t *testing.T) {
	job := models.DeliveryJob{
		Event: models.StreamMessage{
			ChainID:         "1",
			BlockNumber:     42,
			BlockHash:       "0xblock",
			TxHash:          "0xT",
			LogIndex:        0,
			ContractAddress: "0xaaa",
			Topics:          []string{"0xddf2"},
			Data:            "0x00",
			IngestedAt:      time.Unix(1700000000, 0).UTC(),
		},
	}

	body, eventID, err := buildPayload(job, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "1:0xT:0", eventID)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, float64(1), decoded["chain_id"])
	assert.Equal(t, "ethereum", decoded["chain_name"])
	assert.Equal(t, "0xT", decoded["transaction_hash"])
	assert.Equal(t, float64(0), decoded["log_index"])
}

func TestTruncateRespectsLimit(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	out := truncate(string(long), 1024)
	assert.Len(t, out, 1024)
}
