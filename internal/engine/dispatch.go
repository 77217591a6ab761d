package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// DeliveryChannel is the outbound hand-off to the chat/notification
// system. The engine treats it as best-effort: transient failures are
// retried with backoff, then recorded as a failed firing.
type DeliveryChannel interface {
	Deliver(ctx context.Context, p domain.Payload, r domain.Recipients) (domain.DeliveryResult, error)
}

// DispatchConfig holds firing policy knobs.
type DispatchConfig struct {
	// Cooldown is the rolling window within which a (directive, client)
	// pair fires at most once, regardless of trigger kind.
	Cooldown time.Duration

	// AttemptTimeout bounds a single delivery hand-off, separate from the
	// retry/backoff policy.
	AttemptTimeout time.Duration

	// MaxAttempts bounds the delivery retry budget.
	MaxAttempts int

	// BackoffBase is the first retry delay; subsequent delays double.
	BackoffBase time.Duration
}

// DefaultDispatchConfig returns the standard firing policy.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Cooldown:       24 * time.Hour,
		AttemptTimeout: 10 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
	}
}

// TriggerContext records what caused a dispatch, for logging and payload
// provenance.
type TriggerContext struct {
	Kind       domain.TriggerKind
	EventID    string
	SnapshotID string
	TickAt     time.Time
}

func (tc TriggerContext) describe() string {
	switch tc.Kind {
	case domain.TriggerEvent:
		return fmt.Sprintf("event:%s", tc.EventID)
	case domain.TriggerCondition:
		if tc.SnapshotID != "" {
			return fmt.Sprintf("condition:snapshot:%s", tc.SnapshotID)
		}
		return "condition:daily_check"
	case domain.TriggerSchedule:
		return fmt.Sprintf("schedule:%s", tc.TickAt.UTC().Format(time.RFC3339))
	default:
		return string(tc.Kind)
	}
}

// Coordinator orchestrates firing: fire-time re-checks, data point
// resolution, payload assembly, delivery with bounded retries, and the
// atomic cooldown-claim + record + counter write.
type Coordinator struct {
	store    *store.Store
	channel  DeliveryChannel
	resolver *Resolver
	clock    Clock
	ids      IDGenerator
	cfg      DispatchConfig
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(s *store.Store, ch DeliveryChannel, r *Resolver, clock Clock, ids IDGenerator, cfg DispatchConfig) *Coordinator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 24 * time.Hour
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Coordinator{store: s, channel: ch, resolver: r, clock: clock, ids: ids, cfg: cfg}
}

// Dispatch fires a directive for a client.
//
// The directive is re-read and scope membership re-checked at fire time,
// so evaluation against a since-deactivated directive or a since-removed
// member is a silent no-op rather than a stale fire.
//
// Returns the written firing record. A failed delivery (retry budget
// exhausted) returns the fired=false record together with a
// DeliveryUnavailable error; a consumed cooldown returns a
// DuplicateSuppressed error with no record.
func (c *Coordinator) Dispatch(ctx context.Context, directiveID, clientID string, trig TriggerContext) (*domain.FiringRecord, error) {
	d, err := c.store.GetDirective(ctx, directiveID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: reload directive: %w", err)
	}
	if d == nil || !d.IsActive {
		slog.Debug("dispatch skipped: directive gone or inactive", "directive_id", directiveID)
		return nil, nil
	}

	now := c.clock.Now()

	sc, err := c.resolver.InScope(ctx, *d, clientID, now)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		slog.Debug("dispatch skipped: client left scope",
			"directive_id", directiveID, "client_id", clientID)
		return nil, nil
	}

	// Cheap pre-check; the authoritative claim happens in the atomic write.
	active, err := c.store.CooldownActive(ctx, d.ID, clientID, now, c.cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("dispatch: cooldown check: %w", err)
	}
	if active {
		return nil, &DispatchError{
			Code:        ErrCodeDuplicateSuppressed,
			DirectiveID: d.ID,
			ClientID:    clientID,
		}
	}

	dataPoints, err := c.resolveDataPoints(ctx, *d, sc.Client, now)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve data points: %w", err)
	}

	payload := domain.Payload{
		DirectiveID: d.ID,
		ClientID:    clientID,
		MentorID:    d.MentorID,
		Action:      d.Action,
		Params:      d.ActionParams,
		Delivery:    d.Delivery,
		DataPoints:  dataPoints,
		TriggeredBy: trig.describe(),
		GeneratedAt: now,
	}
	payloadJSON, err := domain.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode payload: %w", err)
	}

	result, attempts, deliverErr := c.deliverWithRetry(ctx, payload, d.Recipients)

	rec := domain.FiringRecord{
		ID:          c.ids.NewID(),
		DirectiveID: d.ID,
		ClientID:    clientID,
		FiredAt:     now,
		DataPoints:  dataPoints,
		Payload:     payloadJSON,
		Attempts:    attempts,
	}

	if deliverErr != nil {
		// Honest history: the failed attempt is recorded, but the
		// cooldown is not consumed so the next trigger may retry.
		rec.Fired = false
		rec.Outcome = domain.OutcomeFailed
		if _, err := c.store.WriteFiringAtomic(ctx, rec, c.cfg.Cooldown); err != nil {
			return nil, fmt.Errorf("dispatch: record failed firing: %w", err)
		}
		return &rec, &DispatchError{
			Code:        ErrCodeDeliveryUnavailable,
			DirectiveID: d.ID,
			ClientID:    clientID,
			Attempts:    attempts,
			Err:         deliverErr,
		}
	}

	rec.Fired = true
	rec.Outcome = domain.OutcomeDelivered
	rec.MessageID = result.MessageID

	inserted, err := c.store.WriteFiringAtomic(ctx, rec, c.cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("dispatch: record firing: %w", err)
	}
	if !inserted {
		// Lost the cooldown race after delivery. Per-client FIFO ordering
		// makes this rare; the claim in the transaction is the safety net.
		return nil, &DispatchError{
			Code:        ErrCodeDuplicateSuppressed,
			DirectiveID: d.ID,
			ClientID:    clientID,
		}
	}

	slog.Info("directive fired",
		"directive_id", d.ID,
		"client_id", clientID,
		"record_id", rec.ID,
		"triggered_by", payload.TriggeredBy,
		"attempts", attempts,
	)
	return &rec, nil
}

// deliverWithRetry hands the payload to the delivery channel with a
// per-attempt timeout and exponential backoff between attempts.
func (c *Coordinator) deliverWithRetry(ctx context.Context, p domain.Payload, r domain.Recipients) (domain.DeliveryResult, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		result, err := c.channel.Deliver(attemptCtx, p, r)
		cancel()

		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		slog.Warn("delivery attempt failed",
			"directive_id", p.DirectiveID,
			"client_id", p.ClientID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		backoff := c.cfg.BackoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return domain.DeliveryResult{}, attempt, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return domain.DeliveryResult{}, c.cfg.MaxAttempts, lastErr
}

// resolveDataPoints resolves each data point spec against the client's
// metric history. Missing data resolves to an unset value, never an error.
func (c *Coordinator) resolveDataPoints(ctx context.Context, d domain.Directive, client domain.Client, now time.Time) ([]domain.DataPointValue, error) {
	out := make([]domain.DataPointValue, 0, len(d.DataPoints))

	for _, spec := range d.DataPoints {
		v := domain.DataPointValue{MetricID: spec.MetricID, Comparison: spec.Comparison}

		latest, err := c.store.LatestSnapshot(ctx, client.ID, spec.MetricID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			v.HasCurrent = true
			v.Current = latest.Value
		}

		switch spec.Comparison {
		case domain.ComparePrevious:
			recent, err := c.store.RecentSnapshots(ctx, client.ID, spec.MetricID, 2)
			if err != nil {
				return nil, err
			}
			if len(recent) == 2 {
				prev := recent[1].Value
				v.Reference = &prev
			}

		case domain.CompareAverage:
			// Trailing 7-day mean; metrics logged less often than weekly
			// fall back to a 30-day window.
			mean, ok, err := c.store.TrailingMean(ctx, client.ID, spec.MetricID, now.Add(-7*24*time.Hour))
			if err != nil {
				return nil, err
			}
			if !ok {
				mean, ok, err = c.store.TrailingMean(ctx, client.ID, spec.MetricID, now.Add(-30*24*time.Hour))
				if err != nil {
					return nil, err
				}
			}
			if ok {
				v.Reference = &mean
			}

		case domain.CompareGoal:
			if goal, ok := client.GoalTargets[spec.MetricID]; ok {
				v.Reference = &goal
			}

		case domain.CompareBest:
			best, ok, err := c.store.BestValue(ctx, client.ID, spec.MetricID)
			if err != nil {
				return nil, err
			}
			if ok {
				v.Reference = &best
			}
		}

		out = append(out, v)
	}
	return out, nil
}
