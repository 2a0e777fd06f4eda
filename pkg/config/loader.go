package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Seed the built-in Defaults (defaults.go)
//  2. Load reqminer.yaml from configDir, if present (criteria weights,
//     lexicon override, defaults override)
//  3. Merge YAML-provided defaults over the built-in baseline
//  4. Overlay the canonical environment variables from spec.md §6,
//     which always win over both built-in and YAML values
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.InfoContext(ctx, "loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.InfoContext(ctx, "configuration initialized",
		"criteria", stats.Criteria,
		"lexicon_override", stats.HasLexiconOverride,
		"validation_max_concurrent", stats.ValidationMaxConc,
		"rewrite_max_concurrent", stats.RewriteMaxConc)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	yamlCfg, err := loadReqminerYAML(configDir)
	if err != nil {
		return nil, NewLoadError("reqminer.yaml", err)
	}

	if yamlCfg != nil {
		if len(yamlCfg.Criteria) > 0 {
			cfg.Criteria = yamlCfg.Criteria
		}
		if yamlCfg.Lexicon != nil {
			cfg.Lexicon = yamlCfg.Lexicon
		}
		if yamlCfg.Defaults != nil {
			baseline := &Defaults{
				ModelName:        cfg.ModelName,
				VerdictThreshold: cfg.VerdictThreshold,
				WorkerEndpoint:   cfg.WorkerEndpoint,
			}
			// Merge the YAML-authored defaults over the built-in baseline;
			// non-zero fields in yamlCfg.Defaults win (teacher's queue
			// config merge shape in loader.go).
			if err := mergo.Merge(baseline, yamlCfg.Defaults, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge defaults: %w", err)
			}
			cfg.ModelName = baseline.ModelName
			cfg.VerdictThreshold = baseline.VerdictThreshold
			cfg.WorkerEndpoint = baseline.WorkerEndpoint
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadReqminerYAML(configDir string) (*ReqminerYAMLConfig, error) {
	path := filepath.Join(configDir, "reqminer.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// reqminer.yaml is optional: criteria/lexicon/defaults all
			// have built-in fallbacks, and the whole system can be
			// configured through environment variables alone.
			return nil, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg ReqminerYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers spec.md §6's canonical environment variables
// over whatever built-in/YAML values are already in cfg. Env vars always
// win, matching the teacher's "most specific source wins" merge order.
func applyEnvOverrides(cfg *Config) {
	cfg.Concurrency.ValidationMaxConcurrent = getEnvInt("VALIDATION_MAX_CONCURRENT", cfg.Concurrency.ValidationMaxConcurrent)
	cfg.Concurrency.RewriteMaxConcurrent = getEnvInt("REWRITE_MAX_CONCURRENT", cfg.Concurrency.RewriteMaxConcurrent)
	cfg.Concurrency.ValidationTimeout = secondsOrDefault(
		getEnvInt("VALIDATION_TIMEOUT", int(cfg.Concurrency.ValidationTimeout.Seconds())),
		cfg.Concurrency.ValidationTimeout)
	cfg.Concurrency.RewriteTimeout = secondsOrDefault(
		getEnvInt("REWRITE_TIMEOUT", int(cfg.Concurrency.RewriteTimeout.Seconds())),
		cfg.Concurrency.RewriteTimeout)

	cfg.Chunking.TokensMin = getEnvInt("CHUNK_TOKENS_MIN", cfg.Chunking.TokensMin)
	cfg.Chunking.TokensMax = getEnvInt("CHUNK_TOKENS_MAX", cfg.Chunking.TokensMax)
	cfg.Chunking.OverlapTokens = getEnvInt("CHUNK_OVERLAP_TOKENS", cfg.Chunking.OverlapTokens)

	cfg.VerdictThreshold = getEnvFloat("VERDICT_THRESHOLD", cfg.VerdictThreshold)
	cfg.ModelName = getEnvString("MODEL_NAME", cfg.ModelName)

	cfg.Qdrant.URL = getEnvString("QDRANT_URL", cfg.Qdrant.URL)
	cfg.Qdrant.Port = getEnvInt("QDRANT_PORT", cfg.Qdrant.Port)
	cfg.Qdrant.APIKey = getEnvString("QDRANT_API_KEY", cfg.Qdrant.APIKey)

	cfg.Persistence.Host = getEnvString("POSTGRES_HOST", cfg.Persistence.Host)
	cfg.Persistence.Port = getEnvInt("POSTGRES_PORT", cfg.Persistence.Port)
	cfg.Persistence.User = getEnvString("POSTGRES_USER", cfg.Persistence.User)
	cfg.Persistence.Password = getEnvString("POSTGRES_PASSWORD", cfg.Persistence.Password)
	cfg.Persistence.Database = getEnvString("POSTGRES_DB", cfg.Persistence.Database)
	cfg.Persistence.SSLMode = getEnvString("POSTGRES_SSLMODE", cfg.Persistence.SSLMode)

	cfg.WorkerEndpoint = getEnvString("REQ_WORKER_ENDPOINT", cfg.WorkerEndpoint)
}

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}
