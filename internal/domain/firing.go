package domain

import "time"

// DataPointValue is a resolved data point: the current metric value plus
// the reference value requested by the comparison mode.
type DataPointValue struct {
	MetricID   string     `json:"metric_id"`
	Comparison Comparison `json:"comparison"`

	// HasCurrent is false when no snapshot exists for the metric.
	// Missing data is a valid resolution result, not an error.
	HasCurrent bool    `json:"has_current"`
	Current    float64 `json:"current,omitempty"`

	// Reference is nil when the comparison could not be resolved
	// (e.g. only one snapshot exists for "previous", no goal configured).
	Reference *float64 `json:"reference,omitempty"`
}

// Payload is the assembled delivery payload handed to the delivery channel.
type Payload struct {
	DirectiveID string            `json:"directive_id"`
	ClientID    string            `json:"client_id"`
	MentorID    string            `json:"mentor_id"`
	Action      ActionType        `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	Delivery    DeliverySpec      `json:"delivery"`
	DataPoints  []DataPointValue  `json:"data_points,omitempty"`
	TriggeredBy string            `json:"triggered_by"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// DeliveryResult reports the outcome of a delivery hand-off.
type DeliveryResult struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// FiringRecord is the immutable record of one dispatch attempt outcome.
// Exactly one record exists per successful fire; failed dispatches are
// recorded with Fired=false so mentor-visible history stays honest.
type FiringRecord struct {
	ID          string `json:"id"`
	DirectiveID string `json:"directive_id"`
	ClientID    string `json:"client_id"`

	FiredAt time.Time `json:"fired_at"`
	// Fired is false when delivery exhausted its retry budget. Failed
	// records do not consume the cooldown window.
	Fired bool `json:"fired"`

	DataPoints []DataPointValue `json:"data_points,omitempty"`
	Payload    []byte           `json:"payload,omitempty"`

	Attempts  int    `json:"attempts"`
	Outcome   string `json:"outcome"`
	MessageID string `json:"message_id,omitempty"`

	// Feedback fields, set by the outcome recorder once the external
	// channel reports an engagement signal for this record.
	FeedbackScore   *float64   `json:"feedback_score,omitempty"`
	FeedbackAt      *time.Time `json:"feedback_at,omitempty"`
	FeedbackApplied bool       `json:"feedback_applied"`
}

// Firing outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)
