// Package config loads runtime configuration from the environment,
// prefixed COACHFLOW_.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration for the serve command.
type Config struct {
	// DBPath is the sqlite database file. ":memory:" is valid for
	// throwaway runs.
	DBPath string `envconfig:"DB_PATH" default:"coachflow.db"`

	// HTTPAddr is the management API listen address.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	Engine   EngineConfig   `envconfig:"ENGINE"`
	Kafka    KafkaConfig    `envconfig:"KAFKA"`
	Slack    SlackConfig    `envconfig:"SLACK"`
	LogLevel string         `envconfig:"LOG_LEVEL" default:"info"`
}

// EngineConfig tunes the evaluation pipeline.
type EngineConfig struct {
	Workers          int           `envconfig:"WORKERS" default:"4"`
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"1m"`
	OutcomeInterval  time.Duration `envconfig:"OUTCOME_INTERVAL" default:"1m"`
	Cooldown         time.Duration `envconfig:"COOLDOWN" default:"24h"`
	AttemptTimeout   time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"10s"`
	MaxAttempts      int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffBase      time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	DailyCheckHour   int           `envconfig:"DAILY_CHECK_HOUR" default:"9"`
	DailyCheckMinute int           `envconfig:"DAILY_CHECK_MINUTE" default:"0"`
	MaxCatchup       time.Duration `envconfig:"MAX_CATCHUP" default:"24h"`
	FeedbackWindow   time.Duration `envconfig:"FEEDBACK_WINDOW" default:"24h"`
	ScoreAlpha       float64       `envconfig:"SCORE_ALPHA" default:"0.3"`
}

// KafkaConfig configures feed consumption. Ingest is disabled when
// Brokers is empty; events then arrive only through the HTTP API.
type KafkaConfig struct {
	Brokers      string `envconfig:"BROKERS"`
	GroupID      string `envconfig:"GROUP_ID" default:"coachflow"`
	EventsTopic  string `envconfig:"EVENTS_TOPIC" default:"client.events"`
	MetricsTopic string `envconfig:"METRICS_TOPIC" default:"client.metrics"`
}

// SlackConfig configures outbound delivery. When Token is empty,
// deliveries go to stdout instead.
type SlackConfig struct {
	Token string `envconfig:"TOKEN"`

	// Conversations maps platform user IDs to Slack conversation IDs,
	// "user1:C123,user2:C456".
	Conversations string `envconfig:"CONVERSATIONS"`
}

// ConversationMap parses the Conversations string into a lookup map.
func (s SlackConfig) ConversationMap() (map[string]string, error) {
	out := map[string]string{}
	if s.Conversations == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s.Conversations, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("bad conversation mapping %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

// Load reads configuration from COACHFLOW_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("COACHFLOW", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
