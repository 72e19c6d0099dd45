package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "trustgate.yaml"

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

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "TRUSTGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "TRUSTGATE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TRUSTGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TRUSTGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TRUSTGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TRUSTGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TRUSTGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Logging.Level, "TRUSTGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TRUSTGATE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "TRUSTGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TRUSTGATE_BREAKER_TIMEOUT")
	setBool(&cfg.Tracing.Enabled, "TRUSTGATE_TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "TRUSTGATE_TRACING_ENDPOINT")

	setDuration(&cfg.Execution.Timeout, "TRUSTGATE_EXEC_TIMEOUT")
	setBool(&cfg.Execution.DryRun, "TRUSTGATE_EXEC_DRY_RUN")
	setString(&cfg.Execution.Token, "TRUSTGATE_EXEC_TOKEN")

	setInt64(&cfg.Heuristic.Seed, "TRUSTGATE_HEURISTIC_SEED")
	setFloat64(&cfg.Heuristic.NoiseSpread, "TRUSTGATE_HEURISTIC_NOISE")

	setBool(&cfg.Judge.Enabled, "TRUSTGATE_JUDGE_ENABLED")
	setString(&cfg.Judge.Provider, "TRUSTGATE_JUDGE_PROVIDER")
	setString(&cfg.Judge.Model, "TRUSTGATE_JUDGE_MODEL")
	setFloat64(&cfg.Judge.Temperature, "TRUSTGATE_JUDGE_TEMPERATURE")
	setInt(&cfg.Judge.MaxTokens, "TRUSTGATE_JUDGE_MAX_TOKENS")
	setBool(&cfg.Judge.DryRun, "TRUSTGATE_JUDGE_DRY_RUN")

	setBool(&cfg.Panel.Enabled, "TRUSTGATE_PANEL_ENABLED")
	setFloat64(&cfg.Panel.VetoThreshold, "TRUSTGATE_PANEL_VETO_THRESHOLD")
	setInt(&cfg.Panel.Samples, "TRUSTGATE_PANEL_SAMPLES")

	setFloat64(&cfg.Scoring.ApproveThreshold, "TRUSTGATE_SCORING_APPROVE_THRESHOLD")
	setFloat64(&cfg.Scoring.HeuristicWeight, "TRUSTGATE_SCORING_HEURISTIC_WEIGHT")
	setInt(&cfg.Scoring.MaxScenarios, "TRUSTGATE_SCORING_MAX_SCENARIOS")
	setInt(&cfg.Scoring.SecurityAttempts, "TRUSTGATE_SCORING_SECURITY_ATTEMPTS")

	setString(&cfg.Artifacts.Dir, "TRUSTGATE_ARTIFACTS_DIR")
	setString(&cfg.Artifacts.DatasetDir, "TRUSTGATE_DATASET_DIR")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Panel.VetoThreshold <= 0 || cfg.Panel.VetoThreshold > 1 {
		return errors.New("panel.veto_threshold must be in (0, 1]")
	}
	if cfg.Scoring.ApproveThreshold < 0 || cfg.Scoring.ApproveThreshold > 1 {
		return errors.New("scoring.approve_threshold must be in [0, 1]")
	}
	if cfg.Scoring.HeuristicWeight < 0 || cfg.Scoring.HeuristicWeight > 1 {
		return errors.New("scoring.heuristic_weight must be in [0, 1]")
	}
	if cfg.Judge.Enabled && cfg.Judge.Model == "" {
		return errors.New("judge.model is required when judge is enabled")
	}
	if cfg.Panel.Enabled {
		enabled := 0
		for _, m := range cfg.Panel.Models {
			if m.Enabled {
				enabled++
			}
		}
		if enabled == 0 {
			return errors.New("panel is enabled but no panel model is enabled")
		}
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
