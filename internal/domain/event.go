package domain

import "time"

// Well-known client event types. The engine matches on the raw string, so
// new event types do not require code changes here.
const (
	EventWorkoutCompleted = "workout_completed"
	EventMealLogged       = "meal_logged"
	EventWeightLogged     = "weight_logged"
	EventAppOpened        = "app_opened"
	EventCheckinSubmitted = "checkin_submitted"
)

// Event is a normalized client activity record.
// Events are immutable and append-only.
type Event struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// MetricSnapshot is one point in a client metric time series.
// Snapshots are immutable and append-only; they feed condition triggers
// and comparison resolution.
type MetricSnapshot struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	MetricID  string    `json:"metric_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
