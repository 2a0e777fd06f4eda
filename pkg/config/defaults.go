package config

import "time"

// These mirror spec.md §6's "selected, canonical" environment variable
// defaults exactly; DefaultConfig seeds the Config before YAML and env
// overrides are applied on top.
const (
	DefaultValidationMaxConcurrent = 5
	DefaultRewriteMaxConcurrent    = 3
	DefaultValidationTimeout       = 120 * time.Second
	DefaultRewriteTimeout          = 60 * time.Second
	DefaultChunkTokensMin          = 200
	DefaultChunkTokensMax          = 400
	DefaultChunkOverlapTokens      = 50
	DefaultVerdictThreshold        = 0.7
	DefaultModelName               = "gpt-4o-mini"
	DefaultQdrantDims              = 384
	DefaultTriadMaxRounds          = 3
	DefaultTriadRoundTimeout       = 30 * time.Second
)

// DefaultConfig returns the built-in baseline Config, before reqminer.yaml
// and environment variables are layered on top by load().
func DefaultConfig() *Config {
	return &Config{
		Concurrency: ConcurrencyConfig{
			ValidationMaxConcurrent: DefaultValidationMaxConcurrent,
			RewriteMaxConcurrent:    DefaultRewriteMaxConcurrent,
			ValidationTimeout:       DefaultValidationTimeout,
			RewriteTimeout:          DefaultRewriteTimeout,
		},
		Chunking: ChunkingConfig{
			TokensMin:     DefaultChunkTokensMin,
			TokensMax:     DefaultChunkTokensMax,
			OverlapTokens: DefaultChunkOverlapTokens,
		},
		Triad: TriadConfig{
			MaxRounds:    DefaultTriadMaxRounds,
			RoundTimeout: DefaultTriadRoundTimeout,
		},
		Qdrant: QdrantConfig{
			URL:  "localhost",
			Port: 6334,
			Dims: DefaultQdrantDims,
		},
		Persistence: PersistenceConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "reqminer",
			Database: "reqminer",
			SSLMode:  "disable",
		},
		ModelName:        DefaultModelName,
		VerdictThreshold: DefaultVerdictThreshold,
	}
}
