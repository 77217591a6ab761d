package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

func seedSnapshot(t *testing.T, s *store.Store, id, clientID, metricID string, value float64, at time.Time) {
	t.Helper()
	require.NoError(t, s.AppendSnapshot(context.Background(), domain.MetricSnapshot{
		ID: id, ClientID: clientID, MetricID: metricID, Value: value, Timestamp: at,
	}))
}

func TestMatchEvent(t *testing.T) {
	e := NewEvaluator(nil)

	d := eventDirective("d1", "m1")
	assert.True(t, e.MatchEvent(d, domain.Event{Type: "checkin_logged"}))
	assert.False(t, e.MatchEvent(d, domain.Event{Type: "workout_completed"}))

	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{MetricID: "steps", Operator: domain.OpAbove}}
	assert.False(t, e.MatchEvent(d, domain.Event{Type: "checkin_logged"}))
}

func TestMatchTick(t *testing.T) {
	e := NewEvaluator(nil)

	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Schedule: &domain.ScheduleTrigger{
		Frequency: domain.FrequencyWeekly,
		Hour:      8, Minute: 0,
		Weekdays: []time.Weekday{time.Monday},
	}}

	tick := Tick{LocalHour: 8, LocalMinute: 0, Weekday: time.Monday}
	assert.True(t, e.MatchTick(d, tick))

	tick.Weekday = time.Tuesday
	assert.False(t, e.MatchTick(d, tick))

	tick = Tick{LocalHour: 8, LocalMinute: 30, Weekday: time.Monday}
	assert.False(t, e.MatchTick(d, tick), "minute must match exactly")

	d.Trigger.Schedule.Frequency = domain.FrequencyDaily
	d.Trigger.Schedule.Weekdays = nil
	assert.True(t, e.MatchTick(d, Tick{LocalHour: 8, Weekday: time.Sunday}))
}

func TestMatchTick_ProgramAnchor(t *testing.T) {
	e := NewEvaluator(nil)

	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Schedule: &domain.ScheduleTrigger{
		Frequency: domain.FrequencyProgram,
		Hour:      9,
		Week:      4, Day: 3, // program day 23
	}}

	assert.True(t, e.MatchTick(d, Tick{LocalHour: 9, HasProgram: true, ProgramDay: 23}))
	assert.False(t, e.MatchTick(d, Tick{LocalHour: 9, HasProgram: true, ProgramDay: 22}))
	assert.False(t, e.MatchTick(d, Tick{LocalHour: 9, HasProgram: false, ProgramDay: 23}),
		"clients outside the program never match")
}

func TestEvalCondition_Thresholds(t *testing.T) {
	s := newTestStore(t)
	e := NewEvaluator(s)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	seedSnapshot(t, s, "s1", "c1", "weight_kg", 80, now.Add(-time.Hour))

	cases := []struct {
		op        domain.Operator
		threshold float64
		want      bool
	}{
		{domain.OpAbove, 75, true},
		{domain.OpAbove, 80, false},
		{domain.OpBelow, 85, true},
		{domain.OpBelow, 80, false},
		{domain.OpEquals, 80, true},
		{domain.OpEquals, 79, false},
	}

	for _, tc := range cases {
		d := eventDirective("d1", "m1")
		d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
			MetricID: "weight_kg", Operator: tc.op, Threshold: tc.threshold,
		}}
		got, err := e.EvalCondition(ctx, d, "c1", now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %v", tc.op, tc.threshold)
	}
}

func TestEvalCondition_NoSnapshot(t *testing.T) {
	s := newTestStore(t)
	e := NewEvaluator(s)
	ctx := context.Background()

	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "steps", Operator: domain.OpAbove, Threshold: 1000,
	}}

	got, err := e.EvalCondition(ctx, d, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, got, "absence of data fails value operators")
}

func TestEvalCondition_MissingFor(t *testing.T) {
	s := newTestStore(t)
	e := NewEvaluator(s)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "protein_g", Operator: domain.OpMissingFor, Threshold: 3,
	}}

	// No data at all: holds.
	got, err := e.EvalCondition(ctx, d, "c1", now)
	require.NoError(t, err)
	assert.True(t, got)

	// Data 4 days old: holds.
	seedSnapshot(t, s, "s1", "c1", "protein_g", 120, now.AddDate(0, 0, -4))
	got, err = e.EvalCondition(ctx, d, "c1", now)
	require.NoError(t, err)
	assert.True(t, got)

	// Fresh data falsifies it instantly.
	seedSnapshot(t, s, "s2", "c1", "protein_g", 130, now.Add(-2*time.Hour))
	got, err = e.EvalCondition(ctx, d, "c1", now)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvalCondition_MissingForBoundary(t *testing.T) {
	s := newTestStore(t)
	e := NewEvaluator(s)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "protein_g", Operator: domain.OpMissingFor, Threshold: 3,
	}}

	// Exactly 72h old: not yet missing.
	seedSnapshot(t, s, "s1", "c1", "protein_g", 120, now.Add(-72*time.Hour))
	got, err := e.EvalCondition(ctx, d, "c1", now)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.EvalCondition(ctx, d, "c1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, got)
}
