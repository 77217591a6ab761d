package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coachflow/internal/store"
)

// RecorderConfig holds effectiveness scoring settings.
type RecorderConfig struct {
	// Alpha weights the newest engagement signal in the moving average.
	Alpha float64

	// FeedbackWindow is how long after a fire the engagement signal is
	// allowed to settle before it is folded into the score.
	FeedbackWindow time.Duration
}

// DefaultRecorderConfig returns the standard scoring policy.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Alpha:          0.3,
		FeedbackWindow: 24 * time.Hour,
	}
}

// Recorder folds engagement signals into per-directive effectiveness
// scores once each firing record's feedback window has elapsed.
//
// Effectiveness is an exponentially-weighted moving average over 0..1
// signals, aggregated per directive across every client it fired for. It
// stays nil until the first record resolves.
type Recorder struct {
	store *store.Store
	clock Clock
	cfg   RecorderConfig
}

// NewRecorder creates a Recorder.
func NewRecorder(s *store.Store, clock Clock, cfg RecorderConfig) *Recorder {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.3
	}
	if cfg.FeedbackWindow <= 0 {
		cfg.FeedbackWindow = 24 * time.Hour
	}
	return &Recorder{store: s, clock: clock, cfg: cfg}
}

// RecordFeedback stores an engagement signal reported by the external
// delivery/feedback channel for a firing record.
func (r *Recorder) RecordFeedback(ctx context.Context, recordID string, signal float64) error {
	return r.store.RecordFeedback(ctx, recordID, signal, r.clock.Now())
}

// ResolveDue applies every pending signal whose feedback window elapsed.
// Returns the number of records resolved.
func (r *Recorder) ResolveDue(ctx context.Context, now time.Time) (int, error) {
	pending, err := r.store.PendingOutcomes(ctx, now.Add(-r.cfg.FeedbackWindow))
	if err != nil {
		return 0, fmt.Errorf("resolve outcomes: %w", err)
	}

	resolved := 0
	for _, rec := range pending {
		if err := r.store.ApplyOutcome(ctx, rec.ID, r.cfg.Alpha); err != nil {
			return resolved, fmt.Errorf("resolve outcomes: apply %s: %w", rec.ID, err)
		}
		resolved++
		slog.Debug("outcome applied",
			"record_id", rec.ID,
			"directive_id", rec.DirectiveID,
			"signal", rec.FeedbackScore,
		)
	}
	return resolved, nil
}

// Run resolves due outcomes on a fixed cadence until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.ResolveDue(ctx, r.clock.Now()); err != nil {
				slog.Error("outcome resolution failed", "error", err)
			} else if n > 0 {
				slog.Info("outcomes resolved", "count", n)
			}
		}
	}
}
