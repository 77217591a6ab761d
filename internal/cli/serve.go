package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/coachflow/internal/api"
	"github.com/roach88/coachflow/internal/config"
	"github.com/roach88/coachflow/internal/delivery"
	"github.com/roach88/coachflow/internal/engine"
	"github.com/roach88/coachflow/internal/ingest"
	"github.com/roach88/coachflow/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, feed consumers, and management API",
		Long: `Run the full service: the evaluation engine with its scheduler and
outcome recorder, Kafka feed consumption when brokers are configured,
and the management HTTP API. Configuration comes from COACHFLOW_*
environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	channel, err := buildChannel(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(st, channel, engine.Config{
		Workers:         cfg.Engine.Workers,
		TickInterval:    cfg.Engine.TickInterval,
		OutcomeInterval: cfg.Engine.OutcomeInterval,
		Scheduler: engine.SchedulerConfig{
			DailyCheckHour:   cfg.Engine.DailyCheckHour,
			DailyCheckMinute: cfg.Engine.DailyCheckMinute,
			MaxCatchup:       cfg.Engine.MaxCatchup,
		},
		Dispatch: engine.DispatchConfig{
			Cooldown:       cfg.Engine.Cooldown,
			AttemptTimeout: cfg.Engine.AttemptTimeout,
			MaxAttempts:    cfg.Engine.MaxAttempts,
			BackoffBase:    cfg.Engine.BackoffBase,
		},
		Recorder: engine.RecorderConfig{
			Alpha:          cfg.Engine.ScoreAlpha,
			FeedbackWindow: cfg.Engine.FeedbackWindow,
		},
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("engine exited", "error", err)
			stop()
		}
	}()

	if cfg.Kafka.Brokers != "" {
		source := ingest.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
			[]string{cfg.Kafka.EventsTopic, cfg.Kafka.MetricsTopic})
		runner := ingest.NewRunner(source, eng, cfg.Kafka.EventsTopic, cfg.Kafka.MetricsTopic)
		go func() {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("ingest exited", "error", err)
			}
		}()
	}

	srv := api.NewServer(cfg.HTTPAddr, st, eng, eng.Recorder())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.AttemptTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown failed", "error", err)
		}
	}()

	slog.Info("serving", "addr", cfg.HTTPAddr, "db", cfg.DBPath)
	return srv.Start()
}

func buildChannel(cfg *config.Config) (engine.DeliveryChannel, error) {
	if cfg.Slack.Token == "" {
		slog.Info("no slack token configured, delivering to stdout")
		return delivery.NewConsoleChannel(os.Stdout), nil
	}

	conversations, err := cfg.Slack.ConversationMap()
	if err != nil {
		return nil, err
	}
	return delivery.NewSlackChannel(cfg.Slack.Token, delivery.StaticDirectory(conversations)), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
