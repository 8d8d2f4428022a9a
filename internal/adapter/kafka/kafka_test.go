package kafka

import (
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("S1234567"),
		Value:     []byte(`{"serial":"S1234567"}`),
		Topic:     "sonde-telemetry",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "uploader", Value: []byte("N0CALL")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("S1234567"), raw.Key)
	assert.JSONEq(t, `{"serial":"S1234567"}`, string(raw.Value))
	assert.Equal(t, SourceName, raw.Source)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "N0CALL", raw.Headers["uploader"])
	assert.Nil(t, raw.Commit, "commit is attached by the reader")
}

func TestMapMessageToRawEvent_ParsesAsTelemetry(t *testing.T) {
	msg := kafkago.Message{
		Value: []byte(`{"serial":"T1","lat":40.7,"lon":-74.0,"alt":300,"vel_v":-5.2,"datetime":"2024-05-01T12:00:00Z"}`),
		Time:  time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC),
	}

	event, err := domain.ParseRawEvent(mapMessageToRawEvent(msg))
	require.NoError(t, err)

	assert.Equal(t, "T1", event.ObjectID)
	assert.Equal(t, SourceName, event.Source)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	req := domain.NotificationRequest{
		ID:        "b7c1",
		Criterion: "Nearby Low Altitude",
		ObjectID:  "S1234567",
		Title:     "SondeAlert: Nearby Low Altitude",
		CreatedAt: now,
	}

	msg, err := serializeToMessage(req)
	require.NoError(t, err)

	assert.Equal(t, []byte("S1234567"), msg.Key)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "Nearby Low Altitude", decoded["criterion"])
	assert.Equal(t, "b7c1", decoded["id"])
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "criterion", msg.Headers[0].Key)
	assert.Equal(t, []byte("Nearby Low Altitude"), msg.Headers[0].Value)
	assert.Equal(t, "created_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestWriter_Name(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "sonde-alerts")
	assert.Equal(t, "kafka", w.Name())
	assert.NoError(t, w.Close())
}
