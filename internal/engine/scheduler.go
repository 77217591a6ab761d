package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

const watermarkKey = "scheduler_watermark"

// TaskEnqueuer accepts generated work. Implemented by the engine's
// partitioned work queue; the scheduler only queues, never dispatches
// inline, so tick generation is never blocked by delivery.
type TaskEnqueuer interface {
	Enqueue(t Task) bool
}

// SchedulerConfig holds tick generation settings.
type SchedulerConfig struct {
	// DailyCheckHour/Minute is the local time at which missing_for
	// condition triggers are evaluated for each client, once per day.
	DailyCheckHour   int
	DailyCheckMinute int

	// MaxCatchup caps how far a stale watermark is replayed after downtime.
	MaxCatchup time.Duration
}

// DefaultSchedulerConfig returns sensible scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DailyCheckHour:   9,
		DailyCheckMinute: 0,
		MaxCatchup:       24 * time.Hour,
	}
}

// Scheduler produces the tick stream consumed by schedule and
// program-anchored triggers (plus the daily missing_for checks).
//
// Generation is sparse and watermark-driven: candidate fire times are
// computed directly from each directive's schedule and each scoped
// client's timezone, so the scheduler only wakes clients that have a
// matching directive rather than iterating all clients every minute.
type Scheduler struct {
	store    *store.Store
	resolver *Resolver
	queue    TaskEnqueuer
	clock    Clock
	cfg      SchedulerConfig
}

// NewScheduler creates a Scheduler.
func NewScheduler(s *store.Store, r *Resolver, q TaskEnqueuer, clock Clock, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxCatchup <= 0 {
		cfg.MaxCatchup = 24 * time.Hour
	}
	return &Scheduler{store: s, resolver: r, queue: q, clock: clock, cfg: cfg}
}

// Run ticks on a fixed cadence until the context is cancelled.
// Tick failures are logged and retried on the next cadence; the watermark
// only advances on success, so no window is ever dropped.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx, s.clock.Now()); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick generates and enqueues all ticks in (watermark, now].
//
// The first run only records the watermark: past fire times from before
// the engine existed are not replayed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	wmStr, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}

	if wmStr == "" {
		if err := s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("set initial watermark: %w", err)
		}
		return nil
	}

	wm, err := time.Parse(time.RFC3339Nano, wmStr)
	if err != nil {
		return fmt.Errorf("parse watermark: %w", err)
	}
	if !now.After(wm) {
		return nil
	}
	if now.Sub(wm) > s.cfg.MaxCatchup {
		slog.Warn("scheduler watermark stale, capping catch-up",
			"watermark", wm, "now", now, "max_catchup", s.cfg.MaxCatchup)
		wm = now.Add(-s.cfg.MaxCatchup)
	}

	directives, err := s.store.ListActiveDirectives(ctx)
	if err != nil {
		return fmt.Errorf("list active directives: %w", err)
	}

	// Dedupe ticks by (client, minute): several directives sharing a fire
	// minute produce one tick, and evaluation re-matches each directive.
	pending := make(map[string]*Tick)

	for _, d := range directives {
		kind, err := d.Trigger.Kind()
		if err != nil {
			slog.Warn("skipping directive with malformed trigger", "directive_id", d.ID, "error", err)
			continue
		}

		needsDailyCheck := kind == domain.TriggerCondition &&
			d.Trigger.Condition.Operator == domain.OpMissingFor
		if kind != domain.TriggerSchedule && !needsDailyCheck {
			continue
		}

		scoped, err := s.resolver.Resolve(ctx, d, now)
		if err != nil {
			if IsDeletedTarget(err) {
				s.deactivateOrphan(ctx, d, err)
				continue
			}
			return fmt.Errorf("resolve scope for %s: %w", d.ID, err)
		}

		for _, sc := range scoped {
			if kind == domain.TriggerSchedule {
				s.collectScheduleTicks(pending, d, sc, wm, now)
			} else {
				s.collectDailyChecks(pending, sc, wm, now)
			}
		}
	}

	ticks := make([]*Tick, 0, len(pending))
	for _, t := range pending {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].At.Before(ticks[j].At) })

	for _, t := range ticks {
		s.queue.Enqueue(Task{Kind: TaskTick, Tick: t})
	}
	if len(ticks) > 0 {
		slog.Debug("scheduler ticks enqueued", "count", len(ticks), "window_start", wm, "window_end", now)
	}

	if err := s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}

// collectScheduleTicks adds candidate fire times for one directive/client
// pair within (wm, now]. Candidates are computed per local calendar day in
// the client's timezone.
func (s *Scheduler) collectScheduleTicks(pending map[string]*Tick, d domain.Directive, sc ScopedClient, wm, now time.Time) {
	sched := d.Trigger.Schedule
	loc := sc.Client.Location()

	for _, day := range localDays(wm, now, loc) {
		candidate := time.Date(day.Year(), day.Month(), day.Day(),
			sched.Hour, sched.Minute, 0, 0, loc)
		if !candidate.After(wm) || candidate.After(now) {
			continue
		}

		if sched.Frequency == domain.FrequencyProgram {
			if !sc.HasProgram {
				continue
			}
			pd := domain.ProgramDay(sc.Client.Program.StartDate, candidate, loc)
			if pd != sched.TargetProgramDay() {
				continue
			}
		} else if !sched.MatchesWeekday(candidate.Weekday()) {
			continue
		}

		s.addTick(pending, sc, candidate, loc, false)
	}
}

// collectDailyChecks adds the once-a-day missing_for evaluation tick.
func (s *Scheduler) collectDailyChecks(pending map[string]*Tick, sc ScopedClient, wm, now time.Time) {
	loc := sc.Client.Location()
	for _, day := range localDays(wm, now, loc) {
		candidate := time.Date(day.Year(), day.Month(), day.Day(),
			s.cfg.DailyCheckHour, s.cfg.DailyCheckMinute, 0, 0, loc)
		if !candidate.After(wm) || candidate.After(now) {
			continue
		}
		s.addTick(pending, sc, candidate, loc, true)
	}
}

func (s *Scheduler) addTick(pending map[string]*Tick, sc ScopedClient, at time.Time, loc *time.Location, dailyCheck bool) {
	key := fmt.Sprintf("%s/%d", sc.Client.ID, at.Unix()/60)
	if existing, ok := pending[key]; ok {
		existing.DailyCheck = existing.DailyCheck || dailyCheck
		return
	}

	local := at.In(loc)
	t := &Tick{
		ClientID:    sc.Client.ID,
		At:          at,
		LocalHour:   local.Hour(),
		LocalMinute: local.Minute(),
		Weekday:     local.Weekday(),
		DailyCheck:  dailyCheck,
	}
	if sc.HasProgram {
		t.HasProgram = true
		t.ProgramDay = domain.ProgramDay(sc.Client.Program.StartDate, at, loc)
	}
	pending[key] = t
}

// deactivateOrphan handles a deleted-target scope error: the directive is
// auto-deactivated and surfaced in the log as needing mentor attention.
func (s *Scheduler) deactivateOrphan(ctx context.Context, d domain.Directive, cause error) {
	slog.Warn("directive references deleted target, deactivating",
		"directive_id", d.ID, "error", cause)
	if err := s.store.SetDirectiveActive(ctx, d.ID, false); err != nil {
		slog.Error("failed to deactivate orphaned directive",
			"directive_id", d.ID, "error", err)
	}
}

// localDays lists the local calendar day starts touched by (from, to] in loc.
func localDays(from, to time.Time, loc *time.Location) []time.Time {
	f := from.In(loc)
	t := to.In(loc)
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	end := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}
