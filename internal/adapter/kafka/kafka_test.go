package kafka

import (
	"testing"
	"time"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("req-1"),
		Value:     []byte(`{"id":"req-1","lead_time_hours":24}`),
		Topic:     "forecast-requests",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("scheduler")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("req-1"), raw.Key)
	assert.JSONEq(t, `{"id":"req-1","lead_time_hours":24}`, string(raw.Value))
	assert.Equal(t, "forecast-requests", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "scheduler", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestToMessage(t *testing.T) {
	completed := time.Date(2023, 1, 1, 6, 30, 0, 0, time.UTC)
	out, err := domain.SerializeForecastResult(domain.ForecastResult{
		RequestID:     "req-1",
		ModelVersion:  "latest",
		Status:        domain.StatusSucceeded,
		LeadTimeHours: 12,
		Steps:         2,
		CompletedAt:   completed,
	})
	require.NoError(t, err)

	msg := toMessage(out)

	assert.Equal(t, []byte("req-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"status":"succeeded"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "completed_at", msg.Headers[0].Key)
	assert.Equal(t, []byte(completed.Format(time.RFC3339)), msg.Headers[0].Value)
	assert.Equal(t, "status", msg.Headers[1].Key)
	assert.Equal(t, []byte("succeeded"), msg.Headers[1].Value)
}

func TestToMessage_NoHeaders(t *testing.T) {
	msg := toMessage(domain.OutputEvent{Key: []byte("k"), Value: []byte("{}")})
	assert.Empty(t, msg.Headers)
	assert.Equal(t, []byte("{}"), msg.Value)
}
