package ingest

import (
	"context"
	"log/slog"

	"github.com/roach88/coachflow/internal/domain"
)

// Submitter accepts normalized records for evaluation. Implemented by the
// engine.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev domain.Event) error
	SubmitSnapshot(ctx context.Context, snap domain.MetricSnapshot) error
}

// Runner pumps a source into the engine: decode by topic, submit,
// log-and-continue on malformed records so one bad producer cannot stall
// the feed.
type Runner struct {
	source       Source
	engine       Submitter
	eventsTopic  string
	metricsTopic string
}

// NewRunner creates a Runner routing the two topics to the submitter.
func NewRunner(source Source, engine Submitter, eventsTopic, metricsTopic string) *Runner {
	return &Runner{
		source:       source,
		engine:       engine,
		eventsTopic:  eventsTopic,
		metricsTopic: metricsTopic,
	}
}

// Run consumes until the context is cancelled or the source closes.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.source.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.source.Messages():
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg Message) {
	switch msg.Topic {
	case r.eventsTopic:
		ev, err := NormalizeEvent(msg.Value)
		if err != nil {
			slog.Warn("dropping malformed event", "error", err)
			return
		}
		if err := r.engine.SubmitEvent(ctx, ev); err != nil {
			slog.Error("event submission failed", "client_id", ev.ClientID, "error", err)
		}

	case r.metricsTopic:
		snap, err := NormalizeSnapshot(msg.Value)
		if err != nil {
			slog.Warn("dropping malformed snapshot", "error", err)
			return
		}
		if err := r.engine.SubmitSnapshot(ctx, snap); err != nil {
			slog.Error("snapshot submission failed", "client_id", snap.ClientID, "error", err)
		}

	default:
		slog.Warn("message from unrouted topic", "topic", msg.Topic)
	}
}
