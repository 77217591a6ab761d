package domain

import (
	"fmt"
	"time"
)

// ScopeKind selects which clients a directive applies to.
type ScopeKind string

const (
	// ScopeAll targets every active client of the owning mentor.
	ScopeAll ScopeKind = "all"
	// ScopeGroup targets active members of a single group.
	ScopeGroup ScopeKind = "group"
	// ScopeClient targets one individually assigned client.
	ScopeClient ScopeKind = "client"
)

// Scope identifies the assignment target of a directive.
// GroupID is set only for ScopeGroup, ClientID only for ScopeClient.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	GroupID  string    `json:"group_id,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
}

// TriggerKind distinguishes the three trigger variants.
type TriggerKind string

const (
	TriggerEvent     TriggerKind = "event"
	TriggerSchedule  TriggerKind = "schedule"
	TriggerCondition TriggerKind = "condition"
)

// Trigger is a tagged union: exactly one of the three variants must be set.
// Use Kind() to determine which variant is populated.
type Trigger struct {
	Event     *EventTrigger     `json:"event,omitempty"`
	Schedule  *ScheduleTrigger  `json:"schedule,omitempty"`
	Condition *ConditionTrigger `json:"condition,omitempty"`
}

// Kind returns the populated trigger variant.
// Returns an error unless exactly one variant is set.
func (t Trigger) Kind() (TriggerKind, error) {
	var kind TriggerKind
	n := 0
	if t.Event != nil {
		kind = TriggerEvent
		n++
	}
	if t.Schedule != nil {
		kind = TriggerSchedule
		n++
	}
	if t.Condition != nil {
		kind = TriggerCondition
		n++
	}
	if n != 1 {
		return "", fmt.Errorf("trigger must have exactly one variant, got %d", n)
	}
	return kind, nil
}

// EventTrigger fires when a client event of the given type arrives.
type EventTrigger struct {
	EventType string `json:"event_type"`
}

// Frequency controls how a schedule trigger recurs.
type Frequency string

const (
	// FrequencyDaily fires every day at the configured local time.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly fires on the configured weekdays at the local time.
	FrequencyWeekly Frequency = "weekly"
	// FrequencyProgram fires once, anchored to each member's program start:
	// the trigger day is start + (week-1)*7 + (day-1) in the member's timezone.
	FrequencyProgram Frequency = "program"
)

// ScheduleTrigger fires on scheduler ticks matching the configured local
// time-of-day (minute granularity) in the client's own timezone.
type ScheduleTrigger struct {
	Frequency Frequency      `json:"frequency"`
	Hour      int            `json:"hour"`
	Minute    int            `json:"minute"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`

	// Week and Day are 1-based program anchors, used only for FrequencyProgram.
	Week int `json:"week,omitempty"`
	Day  int `json:"day,omitempty"`
}

// TargetProgramDay returns the zero-based program day on which a
// program-anchored schedule fires: (week-1)*7 + (day-1).
func (s ScheduleTrigger) TargetProgramDay() int {
	return (s.Week-1)*7 + (s.Day - 1)
}

// MatchesWeekday reports whether the schedule covers the given weekday.
// Daily schedules match every weekday.
func (s ScheduleTrigger) MatchesWeekday(wd time.Weekday) bool {
	if s.Frequency == FrequencyDaily {
		return true
	}
	for _, d := range s.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// Operator compares a metric snapshot against a threshold.
type Operator string

const (
	OpAbove  Operator = "above"
	OpBelow  Operator = "below"
	OpEquals Operator = "equals"
	// OpMissingFor holds when no snapshot exists within Threshold days.
	// Absence of data is a valid input here, never an error.
	OpMissingFor Operator = "missing_for"
)

// ConditionTrigger fires when the latest snapshot for MetricID satisfies
// Operator against Threshold. Evaluated on new snapshots for the metric
// (missing_for additionally on daily check ticks) rather than every tick.
type ConditionTrigger struct {
	MetricID  string   `json:"metric_id"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Unit      string   `json:"unit,omitempty"`
}

// Comparison selects the reference value resolved for a data point.
type Comparison string

const (
	// ComparePrevious compares against the second-to-last snapshot.
	ComparePrevious Comparison = "previous"
	// CompareAverage compares against a trailing mean.
	CompareAverage Comparison = "average"
	// CompareGoal compares against the client's configured target.
	CompareGoal Comparison = "goal"
	// CompareBest compares against the historical maximum.
	CompareBest Comparison = "best"
)

// DataPointSpec names a metric to resolve into the delivery payload.
type DataPointSpec struct {
	MetricID   string     `json:"metric_id"`
	Comparison Comparison `json:"comparison"`
}

// ActionType is what the directive does when it fires.
type ActionType string

const (
	ActionAnalyze        ActionType = "analyze"
	ActionSummarize      ActionType = "summarize"
	ActionCompare        ActionType = "compare"
	ActionAlert          ActionType = "alert"
	ActionRemind         ActionType = "remind"
	ActionEncourage      ActionType = "encourage"
	ActionAsk            ActionType = "ask"
	ActionDeliverMessage ActionType = "deliver_message"
)

// ValidActions is the set of recognized action types.
var ValidActions = map[ActionType]bool{
	ActionAnalyze:        true,
	ActionSummarize:      true,
	ActionCompare:        true,
	ActionAlert:          true,
	ActionRemind:         true,
	ActionEncourage:      true,
	ActionAsk:            true,
	ActionDeliverMessage: true,
}

// DeliverySpec shapes the generated message.
type DeliverySpec struct {
	Tone    string `json:"tone"`
	Urgency string `json:"urgency"`
	Format  string `json:"format"`
}

// Recipients selects who receives the generated message.
type Recipients struct {
	ToClient bool `json:"to_client"`
	ToMentor bool `json:"to_mentor"`
}

// Directive is a mentor-authored automation rule:
// trigger → data points → action → delivery.
type Directive struct {
	ID           string            `json:"id"`
	MentorID     string            `json:"mentor_id"`
	Name         string            `json:"name"`
	Scope        Scope             `json:"scope"`
	Trigger      Trigger           `json:"trigger"`
	DataPoints   []DataPointSpec   `json:"data_points,omitempty"`
	Action       ActionType        `json:"action"`
	ActionParams map[string]string `json:"action_params,omitempty"`
	Delivery     DeliverySpec      `json:"delivery"`
	Recipients   Recipients        `json:"recipients"`
	IsActive     bool              `json:"is_active"`

	// Firing bookkeeping, maintained by the dispatch coordinator and
	// outcome recorder. Never set at authoring time.
	TriggeredCount  int64      `json:"triggered_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// EffectivenessScore is a 0..1 per-directive aggregate across all
	// clients it fired for. Nil until at least one firing resolved its
	// feedback window.
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants at authoring time.
// Referential checks (scope target exists) happen in the store layer,
// which has visibility into groups and clients.
func (d *Directive) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if d.MentorID == "" {
		return &ValidationError{Field: "mentor_id", Message: "mentor_id is required"}
	}

	kind, err := d.Trigger.Kind()
	if err != nil {
		return &ValidationError{Field: "trigger", Message: err.Error()}
	}
	switch kind {
	case TriggerEvent:
		if d.Trigger.Event.EventType == "" {
			return &ValidationError{Field: "trigger.event_type", Message: "event trigger requires an event type"}
		}
	case TriggerSchedule:
		if err := validateSchedule(d.Trigger.Schedule); err != nil {
			return err
		}
	case TriggerCondition:
		if err := validateCondition(d.Trigger.Condition); err != nil {
			return err
		}
	}

	switch d.Scope.Kind {
	case ScopeAll:
		if d.Scope.GroupID != "" || d.Scope.ClientID != "" {
			return &ValidationError{Field: "scope", Message: "all-clients scope must not name a target"}
		}
	case ScopeGroup:
		if d.Scope.GroupID == "" {
			return &ValidationError{Field: "scope.group_id", Message: "group scope requires a group id"}
		}
	case ScopeClient:
		if d.Scope.ClientID == "" {
			return &ValidationError{Field: "scope.client_id", Message: "client scope requires a client id"}
		}
	default:
		return &ValidationError{Field: "scope.kind", Message: fmt.Sprintf("unknown scope kind %q", d.Scope.Kind)}
	}

	if !ValidActions[d.Action] {
		return &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", d.Action)}
	}

	for i, dp := range d.DataPoints {
		if dp.MetricID == "" {
			return &ValidationError{Field: fmt.Sprintf("data_points[%d].metric_id", i), Message: "metric id is required"}
		}
		switch dp.Comparison {
		case ComparePrevious, CompareAverage, CompareGoal, CompareBest:
		default:
			return &ValidationError{Field: fmt.Sprintf("data_points[%d].comparison", i), Message: fmt.Sprintf("unknown comparison %q", dp.Comparison)}
		}
	}

	if !d.Recipients.ToClient && !d.Recipients.ToMentor {
		return &ValidationError{Field: "recipients", Message: "at least one recipient is required"}
	}

	return nil
}

func validateSchedule(s *ScheduleTrigger) error {
	switch s.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyProgram:
	default:
		return &ValidationError{Field: "trigger.frequency", Message: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return &ValidationError{Field: "trigger.time", Message: fmt.Sprintf("invalid time of day %02d:%02d", s.Hour, s.Minute)}
	}
	if s.Frequency == FrequencyWeekly && len(s.Weekdays) == 0 {
		return &ValidationError{Field: "trigger.weekdays", Message: "weekly schedule requires at least one weekday"}
	}
	if s.Frequency == FrequencyProgram {
		if s.Week < 1 {
			return &ValidationError{Field: "trigger.week", Message: "program week must be >= 1"}
		}
		if s.Day < 1 || s.Day > 7 {
			return &ValidationError{Field: "trigger.day", Message: "program day must be 1..7"}
		}
	}
	return nil
}

func validateCondition(c *ConditionTrigger) error {
	if c.MetricID == "" {
		return &ValidationError{Field: "trigger.metric_id", Message: "condition trigger requires a metric id"}
	}
	switch c.Operator {
	case OpAbove, OpBelow, OpEquals, OpMissingFor:
	default:
		return &ValidationError{Field: "trigger.operator", Message: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	if c.Operator == OpMissingFor && c.Threshold < 1 {
		return &ValidationError{Field: "trigger.threshold", Message: "missing_for threshold must be >= 1 day"}
	}
	return nil
}
