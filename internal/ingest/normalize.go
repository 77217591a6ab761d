package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/domain"
)

type rawEvent struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

type rawSnapshot struct {
	ID        string  `json:"id"`
	ClientID  string  `json:"client_id"`
	MetricID  string  `json:"metric_id"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// NormalizeEvent decodes a raw feed record into a domain event.
// Timestamps are RFC 3339; a missing timestamp is filled by the caller.
func NormalizeEvent(data []byte) (domain.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if raw.ClientID == "" {
		return domain.Event{}, fmt.Errorf("decode event: missing client_id")
	}
	if raw.Type == "" {
		return domain.Event{}, fmt.Errorf("decode event: missing type")
	}

	ev := domain.Event{
		ID:       raw.ID,
		ClientID: raw.ClientID,
		Type:     raw.Type,
		Payload:  raw.Payload,
	}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			return domain.Event{}, fmt.Errorf("decode event: bad timestamp %q: %w", raw.Timestamp, err)
		}
		ev.Timestamp = ts
	}
	return ev, nil
}

// NormalizeSnapshot decodes a raw feed record into a metric snapshot.
func NormalizeSnapshot(data []byte) (domain.MetricSnapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.MetricSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if raw.ClientID == "" {
		return domain.MetricSnapshot{}, fmt.Errorf("decode snapshot: missing client_id")
	}
	if raw.MetricID == "" {
		return domain.MetricSnapshot{}, fmt.Errorf("decode snapshot: missing metric_id")
	}

	snap := domain.MetricSnapshot{
		ID:       raw.ID,
		ClientID: raw.ClientID,
		MetricID: raw.MetricID,
		Value:    raw.Value,
	}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			return domain.MetricSnapshot{}, fmt.Errorf("decode snapshot: bad timestamp %q: %w", raw.Timestamp, err)
		}
		snap.Timestamp = ts
	}
	return snap, nil
}
