package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
	"github.com/roach88/coachflow/internal/testutil"
)

func seedFiring(t *testing.T, s *store.Store, id, directiveID, clientID string, at time.Time) {
	t.Helper()
	inserted, err := s.WriteFiringAtomic(context.Background(), domain.FiringRecord{
		ID:          id,
		DirectiveID: directiveID,
		ClientID:    clientID,
		FiredAt:     at,
		Fired:       true,
		Payload:     []byte(`{}`),
		Attempts:    1,
		Outcome:     domain.OutcomeDelivered,
	}, 0)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestRecordFeedback_StampsClockTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewManualClock(now)
	rec := NewRecorder(s, clock, DefaultRecorderConfig())

	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))
	seedFiring(t, s, "r1", "d1", "c1", now)

	clock.Advance(time.Hour)
	require.NoError(t, rec.RecordFeedback(ctx, "r1", 0.8))

	firings, err := s.ListFirings(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	require.NotNil(t, firings[0].FeedbackScore)
	assert.Equal(t, 0.8, *firings[0].FeedbackScore)
	require.NotNil(t, firings[0].FeedbackAt)
	assert.True(t, firings[0].FeedbackAt.Equal(now.Add(time.Hour)))
}

func TestResolveDue_WaitsOutFeedbackWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewManualClock(now)
	rec := NewRecorder(s, clock, DefaultRecorderConfig())

	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))
	seedFiring(t, s, "r1", "d1", "c1", now.Add(-25*time.Hour))
	seedFiring(t, s, "r2", "d1", "c2", now.Add(-time.Hour))
	require.NoError(t, rec.RecordFeedback(ctx, "r1", 1.0))
	require.NoError(t, rec.RecordFeedback(ctx, "r2", 0.5))

	// Only r1 is past the 24h window.
	n, err := rec.ResolveDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := s.GetDirective(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d.EffectivenessScore)
	assert.Equal(t, 1.0, *d.EffectivenessScore, "first resolved signal seeds the score")

	// r2 resolves once its window elapses, blending with alpha 0.3.
	n, err = rec.ResolveDue(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err = s.GetDirective(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d.EffectivenessScore)
	assert.InDelta(t, 0.3*0.5+0.7*1.0, *d.EffectivenessScore, 1e-9)
}

func TestResolveDue_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(s, testutil.NewManualClock(now), DefaultRecorderConfig())

	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))
	seedFiring(t, s, "r1", "d1", "c1", now.Add(-25*time.Hour))
	require.NoError(t, rec.RecordFeedback(ctx, "r1", 0.6))

	n, err := rec.ResolveDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = rec.ResolveDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "applied records do not resolve twice")

	d, err := s.GetDirective(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d.EffectivenessScore)
	assert.Equal(t, 0.6, *d.EffectivenessScore)
}

func TestResolveDue_SkipsRecordsWithoutFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(s, testutil.NewManualClock(now), DefaultRecorderConfig())

	require.NoError(t, s.PutDirective(ctx, eventDirective("d1", "m1")))
	seedFiring(t, s, "r1", "d1", "c1", now.Add(-48*time.Hour))

	n, err := rec.ResolveDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err := s.GetDirective(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, d.EffectivenessScore, "score stays unset until a signal resolves")
}
