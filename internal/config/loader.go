package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "testpulse.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not set.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Broker     *string
}

// ParseFlags parses server command-line flags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("testpulse", flag.ContinueOnError)

	var configPath, port, logLevel, dsn, natsURL, broker string
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&broker, "broker", "", "event broker backend (nats, redis)")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "nats-url":
			flags.NatsURL = &natsURL
		case "broker":
			flags.Broker = &broker
		}
	})
	return flags, nil
}

// LoadWithCLI loads configuration with CLI flags applied last. It returns the
// YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.Broker != nil {
		cfg.Broker.Backend = *flags.Broker
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TESTPULSE_PORT")
	setString(&cfg.Server.CORSOrigin, "TESTPULSE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TESTPULSE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TESTPULSE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TESTPULSE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TESTPULSE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TESTPULSE_PG_HEALTH_CHECK")

	// Broker
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.TriggerStream, "TESTPULSE_TRIGGER_STREAM")
	setString(&cfg.NATS.TriggerDurable, "TESTPULSE_TRIGGER_DURABLE")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Broker.Backend, "TESTPULSE_BROKER")
	setDuration(&cfg.Broker.PublishTimeout, "TESTPULSE_BROKER_PUBLISH_TIMEOUT")
	setInt(&cfg.Breaker.MaxFailures, "TESTPULSE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TESTPULSE_BREAKER_TIMEOUT")

	// Logging
	setString(&cfg.Logging.Level, "TESTPULSE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TESTPULSE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TESTPULSE_LOG_ASYNC")

	// Matching
	setInt(&cfg.Matching.BranchThreshold, "TESTPULSE_MATCH_BRANCH_THRESHOLD")
	setInt(&cfg.Matching.TitleOnlyThreshold, "TESTPULSE_MATCH_TITLE_THRESHOLD")
	setInt(&cfg.Matching.ExactBoost, "TESTPULSE_MATCH_EXACT_BOOST")
	setInt(&cfg.Matching.PrefixBoost, "TESTPULSE_MATCH_PREFIX_BOOST")
	setInt(&cfg.Matching.MaxConcurrentPasses, "TESTPULSE_MATCH_MAX_CONCURRENT")
	setDuration(&cfg.Matching.PassTimeout, "TESTPULSE_MATCH_PASS_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TESTPULSE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TESTPULSE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TESTPULSE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TeamNameTTL, "TESTPULSE_CACHE_TEAM_NAME_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "TESTPULSE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "TESTPULSE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "TESTPULSE_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	switch cfg.Broker.Backend {
	case "nats":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for the redis broker")
		}
	default:
		return fmt.Errorf("broker.backend %q is not supported (nats, redis)", cfg.Broker.Backend)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	for name, v := range map[string]int{
		"matching.branch_threshold":     cfg.Matching.BranchThreshold,
		"matching.title_only_threshold": cfg.Matching.TitleOnlyThreshold,
		"matching.exact_boost":          cfg.Matching.ExactBoost,
		"matching.prefix_boost":         cfg.Matching.PrefixBoost,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within 0..100", name)
		}
	}
	if cfg.Matching.MaxConcurrentPasses < 1 {
		return errors.New("matching.max_concurrent_passes must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
