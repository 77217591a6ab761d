package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/delivery"
	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
	"github.com/roach88/coachflow/internal/testutil"
)

func newTestEngine(t *testing.T, at time.Time) (*Engine, *store.Store, *delivery.CaptureChannel, *testutil.ManualClock) {
	t.Helper()
	s := newTestStore(t)
	clock := testutil.NewManualClock(at)
	channel := delivery.NewCaptureChannel()
	eng := New(s, channel, DefaultConfig(),
		WithClock(clock), WithIDGenerator(testutil.NewSequenceIDs("id")))
	return eng, s, channel, clock
}

func TestSubmitEvent_FillsDefaults(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, _, _, _ := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{
		ClientID: "c1", Type: "checkin_logged",
	}))
	assert.Equal(t, 1, eng.QueueLen())

	// Explicit id and timestamp are preserved.
	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{
		ID: "ev-x", ClientID: "c1", Type: "checkin_logged",
		Timestamp: now.Add(-time.Hour),
	}))
	assert.Equal(t, 2, eng.QueueLen())
}

func TestDrain_EventFiresDirective(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))

	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{
		ID: "e1", ClientID: "c1", Type: "checkin_logged",
	}))
	require.NoError(t, eng.Drain(ctx))

	deliveries := channel.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "event:e1", deliveries[0].Payload.TriggeredBy)
	assert.Zero(t, eng.QueueLen())
}

func TestDrain_MentorScopesEvaluation(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	// The client belongs to m1; only m1's directives see their events.
	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m2")))

	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{
		ID: "e1", ClientID: "c1", Type: "checkin_logged",
	}))
	require.NoError(t, eng.Drain(ctx))
	assert.Empty(t, channel.Deliveries())
}

func TestDrain_SnapshotTriggersCondition(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "water_oz", Operator: domain.OpBelow, Threshold: 64,
	}}
	require.NoError(t, s.PutDirective(ctx, d))

	// A snapshot for a different metric does not wake the directive.
	require.NoError(t, eng.SubmitSnapshot(ctx, domain.MetricSnapshot{
		ID: "s1", ClientID: "c1", MetricID: "steps", Value: 4000,
	}))
	require.NoError(t, eng.Drain(ctx))
	assert.Empty(t, channel.Deliveries())

	require.NoError(t, eng.SubmitSnapshot(ctx, domain.MetricSnapshot{
		ID: "s2", ClientID: "c1", MetricID: "water_oz", Value: 40,
	}))
	require.NoError(t, eng.Drain(ctx))

	deliveries := channel.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "condition:snapshot:s2", deliveries[0].Payload.TriggeredBy)
}

func TestDrain_SnapshotAboveThresholdStaysQuiet(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "water_oz", Operator: domain.OpBelow, Threshold: 64,
	}}
	require.NoError(t, s.PutDirective(ctx, d))

	require.NoError(t, eng.SubmitSnapshot(ctx, domain.MetricSnapshot{
		ID: "s1", ClientID: "c1", MetricID: "water_oz", Value: 80,
	}))
	require.NoError(t, eng.Drain(ctx))
	assert.Empty(t, channel.Deliveries())
}

func TestDrain_ScheduleTickFires(t *testing.T) {
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	eng, s, channel, clock := newTestEngine(t, start)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Schedule: &domain.ScheduleTrigger{
		Frequency: domain.FrequencyDaily, Hour: 8,
	}}
	require.NoError(t, s.PutDirective(ctx, d))

	require.NoError(t, eng.Scheduler().Tick(ctx, clock.Now()))
	clock.Advance(2 * time.Hour)
	require.NoError(t, eng.Scheduler().Tick(ctx, clock.Now()))
	require.NoError(t, eng.Drain(ctx))

	deliveries := channel.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "schedule:2026-03-02T08:00:00Z", deliveries[0].Payload.TriggeredBy)
}

func TestDrain_DailyCheckFiresMissingFor(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	eng, s, channel, clock := newTestEngine(t, start)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	d := eventDirective("d1", "m1")
	d.Trigger = domain.Trigger{Condition: &domain.ConditionTrigger{
		MetricID: "protein_g", Operator: domain.OpMissingFor, Threshold: 3,
	}}
	require.NoError(t, s.PutDirective(ctx, d))

	// No protein data has ever arrived, so the 09:00 check fires.
	require.NoError(t, eng.Scheduler().Tick(ctx, clock.Now()))
	clock.Advance(2 * time.Hour)
	require.NoError(t, eng.Scheduler().Tick(ctx, clock.Now()))
	require.NoError(t, eng.Drain(ctx))

	deliveries := channel.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "condition:daily_check", deliveries[0].Payload.TriggeredBy)
}

func TestDrain_CooldownSuppressionIsNotAnError(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1"})
	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))

	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{ID: "e1", ClientID: "c1", Type: "checkin_logged"}))
	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{ID: "e2", ClientID: "c1", Type: "checkin_logged"}))
	require.NoError(t, eng.Drain(ctx))

	assert.Len(t, channel.Deliveries(), 1)
	assert.Zero(t, eng.QueueLen(), "suppressed fires must not requeue")
}

func TestDrain_IneligibleClientSkipped(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	eng, s, channel, _ := newTestEngine(t, now)
	ctx := context.Background()

	seedClient(t, s, domain.Client{ID: "c1", MentorID: "m1", Status: domain.ClientSuspended})
	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))

	require.NoError(t, eng.SubmitEvent(ctx, domain.Event{ID: "e1", ClientID: "c1", Type: "checkin_logged"}))
	require.NoError(t, eng.Drain(ctx))
	assert.Empty(t, channel.Deliveries())
}
