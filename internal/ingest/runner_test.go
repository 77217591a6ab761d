package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
)

type recordingSubmitter struct {
	mu        sync.Mutex
	events    []domain.Event
	snapshots []domain.MetricSnapshot
}

func (r *recordingSubmitter) SubmitEvent(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSubmitter) SubmitSnapshot(ctx context.Context, snap domain.MetricSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func TestRunnerRoutesByTopic(t *testing.T) {
	source := NewChannelSource()
	sub := &recordingSubmitter{}
	runner := NewRunner(source, sub, "coachflow.events", "coachflow.metrics")

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	source.Send(Message{Topic: "coachflow.events",
		Value: []byte(`{"id": "e1", "client_id": "c1", "type": "checkin_logged"}`)})
	source.Send(Message{Topic: "coachflow.metrics",
		Value: []byte(`{"id": "s1", "client_id": "c1", "metric_id": "weight_kg", "value": 80}`)})
	// Malformed records and unrouted topics are dropped, not fatal.
	source.Send(Message{Topic: "coachflow.events", Value: []byte(`{"type": "orphan"}`)})
	source.Send(Message{Topic: "coachflow.audit", Value: []byte(`{}`)})
	require.NoError(t, source.Close())

	select {
	case err := <-done:
		require.NoError(t, err, "runner exits cleanly when the source closes")
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after source close")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.events, 1)
	assert.Equal(t, "e1", sub.events[0].ID)
	require.Len(t, sub.snapshots, 1)
	assert.Equal(t, "weight_kg", sub.snapshots[0].MetricID)
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	source := NewChannelSource()
	runner := NewRunner(source, &recordingSubmitter{}, "events", "metrics")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
