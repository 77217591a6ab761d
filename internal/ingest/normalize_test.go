package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEvent(t *testing.T) {
	ev, err := NormalizeEvent([]byte(`{
		"id": "e1",
		"client_id": "c1",
		"type": "checkin_logged",
		"timestamp": "2026-03-02T12:00:00Z",
		"payload": {"mood": "good"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, "c1", ev.ClientID)
	assert.Equal(t, "checkin_logged", ev.Type)
	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "good", ev.Payload["mood"])
}

func TestNormalizeEvent_OptionalFields(t *testing.T) {
	// ID and timestamp may be absent; the engine fills them on submit.
	ev, err := NormalizeEvent([]byte(`{"client_id": "c1", "type": "workout_completed"}`))
	require.NoError(t, err)
	assert.Empty(t, ev.ID)
	assert.True(t, ev.Timestamp.IsZero())
}

func TestNormalizeEvent_Rejections(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing client_id": `{"type": "checkin_logged"}`,
		"missing type":      `{"client_id": "c1"}`,
		"bad timestamp":     `{"client_id": "c1", "type": "x", "timestamp": "yesterday"}`,
	}
	for name, raw := range cases {
		_, err := NormalizeEvent([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestNormalizeSnapshot(t *testing.T) {
	snap, err := NormalizeSnapshot([]byte(`{
		"id": "s1",
		"client_id": "c1",
		"metric_id": "weight_kg",
		"value": 81.5,
		"timestamp": "2026-03-02T07:30:00Z"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, "weight_kg", snap.MetricID)
	assert.Equal(t, 81.5, snap.Value)
	assert.True(t, snap.Timestamp.Equal(time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)))
}

func TestNormalizeSnapshot_Rejections(t *testing.T) {
	cases := map[string]string{
		"not json":          `[`,
		"missing client_id": `{"metric_id": "weight_kg", "value": 80}`,
		"missing metric_id": `{"client_id": "c1", "value": 80}`,
		"bad timestamp":     `{"client_id": "c1", "metric_id": "weight_kg", "timestamp": "noon"}`,
	}
	for name, raw := range cases {
		_, err := NormalizeSnapshot([]byte(raw))
		assert.Error(t, err, name)
	}
}
