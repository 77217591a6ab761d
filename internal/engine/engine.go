package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// maxTaskRetries bounds requeues after storage failures. Tasks are
// requeued rather than dropped so a transient store outage does not lose
// a tick; the bound prevents a poisoned task from looping forever.
const maxTaskRetries = 3

// Config holds engine runtime settings.
type Config struct {
	// Workers is the number of queue partitions. All tasks for one client
	// hash to the same partition, preserving per-client FIFO order.
	Workers int

	// TickInterval is the scheduler generation cadence.
	TickInterval time.Duration

	// OutcomeInterval is the outcome resolution cadence.
	OutcomeInterval time.Duration

	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Recorder  RecorderConfig
}

// DefaultConfig returns sensible engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		TickInterval:    time.Minute,
		OutcomeInterval: time.Minute,
		Scheduler:       DefaultSchedulerConfig(),
		Dispatch:        DefaultDispatchConfig(),
		Recorder:        DefaultRecorderConfig(),
	}
}

// Engine wires the evaluation pipeline together: feed submission, the
// partitioned work queue, trigger evaluation, dispatch, the scheduler,
// and the outcome recorder.
//
// Thread-safety model:
//   - SubmitEvent / SubmitSnapshot: safe from any goroutine
//   - Run: call once; it owns the worker goroutines
//   - all per-client mutations happen on that client's single worker
type Engine struct {
	store      *store.Store
	queue      *workQueue
	resolver   *Resolver
	evaluator  *Evaluator
	dispatcher *Coordinator
	scheduler  *Scheduler
	recorder   *Recorder
	clock      Clock
	ids        IDGenerator
	cfg        Config
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the ID generator, for deterministic tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// New creates an Engine over the given store and delivery channel.
func New(s *store.Store, channel DeliveryChannel, cfg Config, opts ...Option) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.OutcomeInterval <= 0 {
		cfg.OutcomeInterval = time.Minute
	}

	e := &Engine{
		store: s,
		queue: newWorkQueue(cfg.Workers),
		clock: SystemClock(),
		ids:   UUIDv7Generator{},
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.resolver = NewResolver(s)
	e.evaluator = NewEvaluator(s)
	e.dispatcher = NewCoordinator(s, channel, e.resolver, e.clock, e.ids, cfg.Dispatch)
	e.scheduler = NewScheduler(s, e.resolver, e.queue, e.clock, cfg.Scheduler)
	e.recorder = NewRecorder(s, e.clock, cfg.Recorder)
	return e
}

// SubmitEvent persists a normalized event and queues it for evaluation.
// Thread-safe: may be called from any goroutine.
func (e *Engine) SubmitEvent(ctx context.Context, ev domain.Event) error {
	if ev.ID == "" {
		ev.ID = e.ids.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock.Now()
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	e.queue.Enqueue(Task{Kind: TaskEvent, Event: &ev})
	return nil
}

// SubmitSnapshot persists a metric snapshot and queues it for evaluation.
// Thread-safe: may be called from any goroutine.
func (e *Engine) SubmitSnapshot(ctx context.Context, snap domain.MetricSnapshot) error {
	if snap.ID == "" {
		snap.ID = e.ids.NewID()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = e.clock.Now()
	}
	if err := e.store.AppendSnapshot(ctx, snap); err != nil {
		return err
	}
	e.queue.Enqueue(Task{Kind: TaskSnapshot, Snapshot: &snap})
	return nil
}

// Scheduler returns the tick generator, for direct driving in tests.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Recorder returns the outcome recorder, used by the feedback inbound.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// QueueLen returns the number of pending tasks across all partitions.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Run starts the workers, the scheduler, and the outcome recorder, and
// blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "workers", e.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			e.runWorker(ctx, partition)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx, e.cfg.TickInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.recorder.Run(ctx, e.cfg.OutcomeInterval)
	}()

	<-ctx.Done()
	e.queue.Close()
	wg.Wait()
	slog.Info("engine stopped")
	return ctx.Err()
}

// Drain processes every queued task inline until the queue is empty.
// Used by the scenario harness and tests to run the pipeline
// synchronously instead of through Run's workers.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		processed := false
		for i := 0; i < e.cfg.Workers; i++ {
			q := e.queue.Partition(i)
			for {
				task, ok := q.TryDequeue()
				if !ok {
					break
				}
				processed = true
				if err := e.processTask(ctx, task); err != nil {
					e.requeue(task, err)
				}
			}
		}
		if !processed {
			return ctx.Err()
		}
	}
}

// runWorker drains one queue partition. All tasks for a given client land
// in the same partition, so processing order per client matches arrival
// order.
//
// ERROR HANDLING: storage failures requeue the task (bounded by
// maxTaskRetries); everything else is logged and processing continues.
func (e *Engine) runWorker(ctx context.Context, partition int) {
	q := e.queue.Partition(partition)

	for {
		task, ok := q.TryDequeue()
		if ok {
			if err := e.processTask(ctx, task); err != nil {
				e.requeue(task, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.Wait():
			// Signal received, or channel closed on shutdown.
			if q.Len() == 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

func (e *Engine) requeue(task Task, cause error) {
	if task.Retries >= maxTaskRetries {
		slog.Error("task dropped after retries",
			"kind", task.Kind, "client_id", task.ClientID(), "error", cause)
		return
	}
	task.Retries++
	slog.Warn("task requeued after failure",
		"kind", task.Kind, "client_id", task.ClientID(),
		"retries", task.Retries, "error", cause)
	e.queue.Enqueue(task)
}

// processTask evaluates one work item against all active directives of
// the client's mentor. Evaluation is side-effect-free until Dispatch.
func (e *Engine) processTask(ctx context.Context, task Task) error {
	clientID := task.ClientID()
	if clientID == "" {
		slog.Error("task missing client id", "kind", task.Kind)
		return nil
	}

	client, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load client %s: %w", clientID, err)
	}
	if client == nil || !client.Eligible() {
		slog.Debug("task skipped: client gone or ineligible", "client_id", clientID)
		return nil
	}

	directives, err := e.store.ListActiveDirectives(ctx)
	if err != nil {
		return fmt.Errorf("load active directives: %w", err)
	}

	for _, d := range directives {
		if d.MentorID != client.MentorID {
			continue
		}
		if err := e.evaluate(ctx, d, *client, task); err != nil {
			return err
		}
	}
	return nil
}

// evaluate checks one directive against one task and dispatches on match.
// Matching directives fire independently: no suppression across
// directives, only the per-directive cooldown.
func (e *Engine) evaluate(ctx context.Context, d domain.Directive, client domain.Client, task Task) error {
	switch task.Kind {
	case TaskEvent:
		if !e.evaluator.MatchEvent(d, *task.Event) {
			return nil
		}
		return e.fire(ctx, d, client.ID, TriggerContext{
			Kind:    domain.TriggerEvent,
			EventID: task.Event.ID,
		})

	case TaskSnapshot:
		c := d.Trigger.Condition
		if c == nil || c.MetricID != task.Snapshot.MetricID {
			return nil
		}
		holds, err := e.evaluator.EvalCondition(ctx, d, client.ID, e.clock.Now())
		if err != nil {
			return err
		}
		if !holds {
			return nil
		}
		return e.fire(ctx, d, client.ID, TriggerContext{
			Kind:       domain.TriggerCondition,
			SnapshotID: task.Snapshot.ID,
		})

	case TaskTick:
		tick := *task.Tick
		if d.Trigger.Schedule != nil && e.evaluator.MatchTick(d, tick) {
			return e.fire(ctx, d, client.ID, TriggerContext{
				Kind:   domain.TriggerSchedule,
				TickAt: tick.At,
			})
		}
		if tick.DailyCheck && d.Trigger.Condition != nil &&
			d.Trigger.Condition.Operator == domain.OpMissingFor {
			holds, err := e.evaluator.EvalCondition(ctx, d, client.ID, tick.At)
			if err != nil {
				return err
			}
			if holds {
				return e.fire(ctx, d, client.ID, TriggerContext{
					Kind: domain.TriggerCondition,
				})
			}
		}
		return nil

	default:
		slog.Error("unknown task kind", "kind", task.Kind)
		return nil
	}
}

// fire dispatches and classifies the outcome. Duplicate suppression and
// delivery exhaustion are expected operational states, not task failures.
func (e *Engine) fire(ctx context.Context, d domain.Directive, clientID string, trig TriggerContext) error {
	_, err := e.dispatcher.Dispatch(ctx, d.ID, clientID, trig)
	switch {
	case err == nil:
		return nil
	case IsDuplicateSuppressed(err):
		slog.Debug("fire suppressed by cooldown",
			"directive_id", d.ID, "client_id", clientID)
		return nil
	case IsDeliveryUnavailable(err):
		slog.Warn("delivery exhausted, failed firing recorded",
			"directive_id", d.ID, "client_id", clientID, "error", err)
		return nil
	case IsDeletedTarget(err):
		e.scheduler.deactivateOrphan(ctx, d, err)
		return nil
	default:
		return fmt.Errorf("dispatch %s for %s: %w", d.ID, clientID, err)
	}
}
