package configs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RULE1_COUNT", "RULE2_WEIGHT", "SCORING_TIMEZONE", "SINK_POSTGRES", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 10*time.Minute, cfg.Scoring.VelocityWindow)
	assert.Equal(t, 5, cfg.Scoring.VelocityCount)
	assert.Equal(t, [5]float64{80, 70, 75, 60, 55}, cfg.Scoring.Weights)
	assert.Equal(t, "UTC", cfg.Scoring.TimeZone)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Sinks.Postgres)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"RULE1_WINDOW":     "15m",
		"RULE1_COUNT":      "7",
		"RULE2_WEIGHT":     "90.5",
		"SCORING_TIMEZONE": "America/New_York",
		"KAFKA_BROKERS":    "k1:9092, k2:9092,",
		"SINK_KAFKA":       "true",
		"RULE3_ABSOLUTE":   " 7500 ",
	})

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.Scoring.VelocityWindow)
	assert.Equal(t, 7, cfg.Scoring.VelocityCount)
	assert.Equal(t, 90.5, cfg.Scoring.Weights[1])
	assert.Equal(t, 7500.0, cfg.Scoring.SpikeAbsolute)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Sinks.Kafka)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "America/New_York", cfg.Scoring.Location().String())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero velocity count", func(c *Config) { c.Scoring.VelocityCount = 0 }, "Config.Scoring.VelocityCount"},
		{"percentile above 100", func(c *Config) { c.Scoring.NightPercentile = 120 }, "Config.Scoring.NightPercentile"},
		{"night window inverted", func(c *Config) { c.Scoring.NightStartHour = 6; c.Scoring.NightEndHour = 2 }, "Config.Scoring.NightStartHour"},
		{"non-positive weight", func(c *Config) { c.Scoring.Weights[3] = 0 }, "Config.Scoring.Weights[3]"},
		{"unknown time zone", func(c *Config) { c.Scoring.TimeZone = "Mars/Olympus" }, "Config.Scoring.TimeZone"},
		{"unknown role", func(c *Config) { c.APIClient.Role = "root" }, "Config.APIClient.Role"},
		{"short jwt secret", func(c *Config) { c.JWT.Secret = "short" }, "Config.JWT.Secret"},
		{"postgres sink without url", func(c *Config) { c.Sinks.Postgres = true; c.Database.URL = "" }, "Config.Database.URL"},
		{"redis sink without url", func(c *Config) { c.Sinks.Redis = true; c.Redis.URL = "" }, "Config.Redis.URL"},
		{"kafka sink without brokers", func(c *Config) { c.Sinks.Kafka = true; c.Kafka.Brokers = nil }, "Config.Kafka.Brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	s := ScoringConfig{TimeZone: "Nowhere/Special"}
	assert.Equal(t, time.UTC, s.Location())
}

func TestValidateRejectsUnparsableOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"weight", map[string]string{"RULE1_WEIGHT": "eighty"}, "RULE1_WEIGHT"},
		{"threshold", map[string]string{"RULE2_SIGMA": "3x"}, "RULE2_SIGMA"},
		{"count", map[string]string{"RULE1_COUNT": "5.5"}, "RULE1_COUNT"},
		{"window", map[string]string{"RULE3_WINDOW": "a day"}, "RULE3_WINDOW"},
		{"sink flag", map[string]string{"SINK_REDIS": "yes please"}, "SINK_REDIS"},
		{"first failure wins", map[string]string{"RULE1_WEIGHT": "eighty", "RULE2_SIGMA": "3x"}, "RULE2_SIGMA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			err := Load().Validate()

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), "cannot parse")
		})
	}
}
