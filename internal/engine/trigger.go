package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// Evaluator holds the pure trigger predicates. Each predicate answers: for
// this (directive, client, incoming record), does the trigger hold right
// now? Evaluation never mutates state and never fails on missing data.
type Evaluator struct {
	store *store.Store
}

// NewEvaluator creates an Evaluator backed by the given store.
func NewEvaluator(s *store.Store) *Evaluator {
	return &Evaluator{store: s}
}

// MatchEvent reports whether an event trigger holds for the incoming event.
// Scope membership is checked separately by the caller.
func (e *Evaluator) MatchEvent(d domain.Directive, ev domain.Event) bool {
	if d.Trigger.Event == nil {
		return false
	}
	return d.Trigger.Event.EventType == ev.Type
}

// MatchTick reports whether a schedule trigger holds for a scheduler tick.
// The tick's local fields were computed in the client's own timezone.
//
// Program-anchored schedules compare the tick's elapsed program day to the
// configured (week, day) anchor instead of the weekday set.
func (e *Evaluator) MatchTick(d domain.Directive, tick Tick) bool {
	s := d.Trigger.Schedule
	if s == nil {
		return false
	}
	if s.Hour != tick.LocalHour || s.Minute != tick.LocalMinute {
		return false
	}
	if s.Frequency == domain.FrequencyProgram {
		return tick.HasProgram && tick.ProgramDay == s.TargetProgramDay()
	}
	return s.MatchesWeekday(tick.Weekday)
}

// EvalCondition reports whether a condition trigger holds for a client at
// the given instant, consulting the latest snapshot of the trigger metric.
//
// Absence of a snapshot is a valid input: it satisfies missing_for and
// fails every other operator. Only storage failures return an error.
func (e *Evaluator) EvalCondition(ctx context.Context, d domain.Directive, clientID string, now time.Time) (bool, error) {
	c := d.Trigger.Condition
	if c == nil {
		return false, nil
	}

	latest, err := e.store.LatestSnapshot(ctx, clientID, c.MetricID)
	if err != nil {
		return false, fmt.Errorf("eval condition: %w", err)
	}

	if c.Operator == domain.OpMissingFor {
		// Holds iff the most recent snapshot is absent or older than
		// threshold days. A fresh snapshot makes this false instantly.
		if latest == nil {
			return true, nil
		}
		age := now.Sub(latest.Timestamp)
		return age > time.Duration(c.Threshold)*24*time.Hour, nil
	}

	if latest == nil {
		return false, nil
	}
	switch c.Operator {
	case domain.OpAbove:
		return latest.Value > c.Threshold, nil
	case domain.OpBelow:
		return latest.Value < c.Threshold, nil
	case domain.OpEquals:
		return latest.Value == c.Threshold, nil
	default:
		return false, nil
	}
}
