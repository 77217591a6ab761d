package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coachflow/internal/delivery"
	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/engine"
	"github.com/roach88/coachflow/internal/store"
	"github.com/roach88/coachflow/internal/testutil"
)

// Harness drives one scenario execution.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.ManualClock
	channel *delivery.CaptureChannel

	// recordIDs maps 1-based delivery numbers to firing record IDs, for
	// feedback steps.
	recordIDs []string
	seen      int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database with a manual
// clock, sequential IDs, and a capturing delivery channel, so the trace
// is fully deterministic.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	start, err := time.Parse(time.RFC3339, scenario.Start)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}

	clock := testutil.NewManualClock(start)
	channel := delivery.NewCaptureChannel()
	eng := engine.New(st, channel, engine.DefaultConfig(),
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequenceIDs("rec")),
	)

	h := &Harness{store: st, engine: eng, clock: clock, channel: channel}
	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := h.collectTrace(ctx, i+1, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: collect trace: %w", i, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, Now: clock.Now()}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// seed loads clients, then groups, then directives, in that order so
// scope target checks resolve.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for _, cs := range scenario.Clients {
		client, err := cs.client()
		if err != nil {
			return err
		}
		if err := h.store.PutClient(ctx, client); err != nil {
			return fmt.Errorf("seed client %s: %w", cs.ID, err)
		}
	}
	for _, gs := range scenario.Groups {
		g := domain.ClientGroup{
			ID:        gs.ID,
			MentorID:  gs.Mentor,
			Name:      gs.Name,
			MemberIDs: gs.Members,
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		if err := h.store.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("seed group %s: %w", gs.ID, err)
		}
	}
	for _, ds := range scenario.Directives {
		d, err := ds.directive()
		if err != nil {
			return fmt.Errorf("seed directive %s: %w", ds.ID, err)
		}
		if err := h.store.PutDirective(ctx, d); err != nil {
			return fmt.Errorf("seed directive %s: %w", ds.ID, err)
		}
	}

	// Prime the scheduler watermark at the scenario start so the first
	// advance generates ticks from there instead of skipping the window.
	return h.engine.Scheduler().Tick(ctx, h.clock.Now())
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	switch {
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		now := h.clock.Advance(d)
		if err := h.engine.Scheduler().Tick(ctx, now); err != nil {
			return fmt.Errorf("scheduler tick: %w", err)
		}
		if err := h.engine.Drain(ctx); err != nil {
			return err
		}
		if _, err := h.engine.Recorder().ResolveDue(ctx, now); err != nil {
			return err
		}
		return nil

	case step.Event != nil:
		ev := domain.Event{
			ID:        fmt.Sprintf("ev-%06d", index+1),
			ClientID:  step.Event.Client,
			Type:      step.Event.Type,
			Timestamp: h.clock.Now(),
		}
		if err := h.engine.SubmitEvent(ctx, ev); err != nil {
			return err
		}
		return h.engine.Drain(ctx)

	case step.Metric != nil:
		snap := domain.MetricSnapshot{
			ID:        fmt.Sprintf("snap-%06d", index+1),
			ClientID:  step.Metric.Client,
			MetricID:  step.Metric.Metric,
			Value:     step.Metric.Value,
			Timestamp: h.clock.Now(),
		}
		if err := h.engine.SubmitSnapshot(ctx, snap); err != nil {
			return err
		}
		return h.engine.Drain(ctx)

	case step.Feedback != nil:
		n := step.Feedback.Delivery
		if n < 1 || n > len(h.recordIDs) {
			return fmt.Errorf("feedback references delivery %d, only %d recorded", n, len(h.recordIDs))
		}
		return h.engine.Recorder().RecordFeedback(ctx, h.recordIDs[n-1], step.Feedback.Signal)

	default:
		return fmt.Errorf("empty step")
	}
}

// collectTrace appends deliveries captured since the last step, and
// resolves each one's firing record ID for later feedback steps.
func (h *Harness) collectTrace(ctx context.Context, step int, result *Result) error {
	deliveries := h.channel.Deliveries()
	for _, d := range deliveries[h.seen:] {
		recs, err := h.store.FiringsInWindow(ctx,
			d.Payload.DirectiveID, d.Payload.ClientID,
			d.Payload.GeneratedAt, d.Payload.GeneratedAt.Add(time.Millisecond))
		if err != nil {
			return err
		}
		recordID := ""
		if len(recs) > 0 {
			recordID = recs[len(recs)-1].ID
		}
		h.recordIDs = append(h.recordIDs, recordID)

		result.Trace = append(result.Trace, TraceEvent{
			Kind:        "delivery",
			Step:        step,
			DirectiveID: d.Payload.DirectiveID,
			ClientID:    d.Payload.ClientID,
			TriggeredBy: d.Payload.TriggeredBy,
			Text:        d.Text,
			At:          d.Payload.GeneratedAt.UTC().Format(time.RFC3339),
		})
	}
	h.seen = len(deliveries)
	return nil
}
