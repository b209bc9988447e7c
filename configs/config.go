package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	APIClient APIClientConfig
	Scoring   ScoringConfig
	Output    OutputConfig
	Sinks     SinkConfig

	// overrides that could not be parsed
	loadErrs []*ConfigurationError
}

type ServerConfig struct {
	Port         string        `validate:"required"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	Environment  string        `validate:"oneof=development staging production test"`
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int `validate:"gte=1"`
	MaxIdleConns    int `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	AlertStream  string `validate:"required"`
	MaxStreamLen int64  `validate:"gte=0"`
	CacheTTL     time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string `validate:"required"`
	GroupID    string `validate:"required"`
}

type JWTConfig struct {
	Secret     string        `validate:"required,min=16"`
	Expiration time.Duration `validate:"gt=0"`
}

// APIClientConfig holds the single client credential accepted by the API
// server. SecretHash is a bcrypt hash.
type APIClientConfig struct {
	ClientID   string
	SecretHash string
	Role       string `validate:"oneof=admin analyst viewer"`
}

// ScoringConfig carries the rule thresholds and weights. Defaults are the
// fixed production constants; overrides are validated at startup.
type ScoringConfig struct {
	VelocityWindow     time.Duration `validate:"gt=0"`
	VelocityCount      int           `validate:"gte=1"`
	AnomalySigma       float64       `validate:"gt=0"`
	AnomalyMinAmount   float64       `validate:"gte=0"`
	AnomalyMinHistory  int           `validate:"gte=2"`
	SpikeWindow        time.Duration `validate:"gt=0"`
	SpikeAbsolute      float64       `validate:"gt=0"`
	SpikeMultiplier    float64       `validate:"gt=0"`
	MerchantMinAmount  float64       `validate:"gte=0"`
	MerchantMultiplier float64       `validate:"gt=0"`
	NightStartHour     int           `validate:"gte=0,lte=23"`
	NightEndHour       int           `validate:"gte=1,lte=24"`
	NightPercentile    float64       `validate:"gt=0,lte=100"`
	Weights            [5]float64
	TimeZone           string `validate:"required"`
	Concurrency        int    `validate:"gte=1,lte=256"`
}

type OutputConfig struct {
	FlaggedOnly   bool
	SortByRisk    bool
	AlertMinScore float64 `validate:"gte=0,lte=100"`
}

// SinkConfig toggles the optional result sinks used by fraud-scan.
type SinkConfig struct {
	Postgres bool
	Redis    bool
	Kafka    bool
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func Load() *Config {
	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  env.getDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    env.getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.getInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: env.getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			AlertStream:  getEnv("REDIS_ALERT_STREAM", "fraud-alerts"),
			MaxStreamLen: int64(env.getInt("REDIS_ALERT_STREAM_MAXLEN", 100000)),
			CacheTTL:     env.getDuration("REDIS_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "fraud-alerts"),
			GroupID:    getEnv("KAFKA_GROUP_ID", "fraud-alert-monitor"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-me-in-production-please"),
			Expiration: env.getDuration("JWT_EXPIRATION", time.Hour),
		},
		APIClient: APIClientConfig{
			ClientID:   getEnv("API_CLIENT_ID", ""),
			SecretHash: getEnv("API_CLIENT_SECRET_HASH", ""),
			Role:       getEnv("API_CLIENT_ROLE", "analyst"),
		},
		Scoring: ScoringConfig{
			VelocityWindow:     env.getDuration("RULE1_WINDOW", 10*time.Minute),
			VelocityCount:      env.getInt("RULE1_COUNT", 5),
			AnomalySigma:       env.getFloat("RULE2_SIGMA", 3),
			AnomalyMinAmount:   env.getFloat("RULE2_MIN_AMOUNT", 500),
			AnomalyMinHistory:  env.getInt("RULE2_MIN_HISTORY", 2),
			SpikeWindow:        env.getDuration("RULE3_WINDOW", 24*time.Hour),
			SpikeAbsolute:      env.getFloat("RULE3_ABSOLUTE", 5000),
			SpikeMultiplier:    env.getFloat("RULE3_MULTIPLIER", 10),
			MerchantMinAmount:  env.getFloat("RULE4_MIN_AMOUNT", 300),
			MerchantMultiplier: env.getFloat("RULE4_MULTIPLIER", 2),
			NightStartHour:     env.getInt("RULE5_START_HOUR", 2),
			NightEndHour:       env.getInt("RULE5_END_HOUR", 6),
			NightPercentile:    env.getFloat("RULE5_PERCENTILE", 75),
			Weights: [5]float64{
				env.getFloat("RULE1_WEIGHT", 80),
				env.getFloat("RULE2_WEIGHT", 70),
				env.getFloat("RULE3_WEIGHT", 75),
				env.getFloat("RULE4_WEIGHT", 60),
				env.getFloat("RULE5_WEIGHT", 55),
			},
			TimeZone:    getEnv("SCORING_TIMEZONE", "UTC"),
			Concurrency: env.getInt("SCORING_CONCURRENCY", 4),
		},
		Output: OutputConfig{
			FlaggedOnly:   env.getBool("OUTPUT_FLAGGED_ONLY", false),
			SortByRisk:    env.getBool("OUTPUT_SORT_BY_RISK", false),
			AlertMinScore: env.getFloat("ALERT_MIN_SCORE", 0.01),
		},
		Sinks: SinkConfig{
			Postgres: env.getBool("SINK_POSTGRES", false),
			Redis:    env.getBool("SINK_REDIS", false),
			Kafka:    env.getBool("SINK_KAFKA", false),
		},
	}
	cfg.loadErrs = env.errs
	return cfg
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules that tags
// cannot express. The first violation is returned as a *ConfigurationError.
func (c *Config) Validate() error {
	if len(c.loadErrs) > 0 {
		return c.loadErrs[0]
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &ConfigurationError{Field: "Config", Reason: err.Error()}
	}

	s := c.Scoring
	if s.NightStartHour >= s.NightEndHour {
		return &ConfigurationError{
			Field:  "Config.Scoring.NightStartHour",
			Reason: fmt.Sprintf("start hour %d must be before end hour %d", s.NightStartHour, s.NightEndHour),
		}
	}
	for i, w := range s.Weights {
		if w <= 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("Config.Scoring.Weights[%d]", i),
				Reason: fmt.Sprintf("rule weight must be positive, got %v", w),
			}
		}
	}
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return &ConfigurationError{Field: "Config.Scoring.TimeZone", Reason: err.Error()}
	}
	if c.Sinks.Postgres && c.Database.URL == "" {
		return &ConfigurationError{Field: "Config.Database.URL", Reason: "required when SINK_POSTGRES is enabled"}
	}
	if c.Sinks.Redis && c.Redis.URL == "" {
		return &ConfigurationError{Field: "Config.Redis.URL", Reason: "required when SINK_REDIS is enabled"}
	}
	if c.Sinks.Kafka && len(c.Kafka.Brokers) == 0 {
		return &ConfigurationError{Field: "Config.Kafka.Brokers", Reason: "required when SINK_KAFKA is enabled"}
	}
	return nil
}

// Location returns the configured scoring time zone. Validate must have
// accepted the config first.
func (s ScoringConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader reads typed overrides and keeps every value that fails to parse
type envReader struct {
	errs []*ConfigurationError
}

func (r *envReader) fail(key, value string, err error) {
	r.errs = append(r.errs, &ConfigurationError{
		Field:  key,
		Reason: fmt.Sprintf("cannot parse %q: %v", value, err),
	})
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, err)
		return defaultValue
	}
	return intValue
}

func (r *envReader) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.fail(key, value, err)
		return defaultValue
	}
	return floatValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, err)
		return defaultValue
	}
	return boolValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, err)
		return defaultValue
	}
	return duration
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
