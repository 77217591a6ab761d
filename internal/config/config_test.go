package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "coachflow.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Engine.Cooldown)
	assert.Equal(t, 0.3, cfg.Engine.ScoreAlpha)
	assert.Equal(t, "client.events", cfg.Kafka.EventsTopic)
	assert.Empty(t, cfg.Kafka.Brokers, "ingest is off without brokers")
	assert.Empty(t, cfg.Slack.Token, "deliveries go to stdout without a token")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("COACHFLOW_DB_PATH", ":memory:")
	t.Setenv("COACHFLOW_ENGINE_WORKERS", "8")
	t.Setenv("COACHFLOW_ENGINE_COOLDOWN", "12h")
	t.Setenv("COACHFLOW_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 12*time.Hour, cfg.Engine.Cooldown)
	assert.Equal(t, "kafka-1:9092,kafka-2:9092", cfg.Kafka.Brokers)
}

func TestConversationMap(t *testing.T) {
	m, err := SlackConfig{Conversations: "c1:C123, m1:C456"}.ConversationMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c1": "C123", "m1": "C456"}, m)

	m, err = SlackConfig{}.ConversationMap()
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = SlackConfig{Conversations: "justakey"}.ConversationMap()
	assert.Error(t, err)
}
