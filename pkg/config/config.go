package config

import "time"

// Config is the umbrella configuration object returned by Initialize
// and threaded through cmd/reqminer's dependency wiring.
type Config struct {
	configDir string

	Concurrency ConcurrencyConfig
	Chunking    ChunkingConfig
	Triad       TriadConfig
	Qdrant      QdrantConfig
	Persistence PersistenceConfig

	ModelName        string
	VerdictThreshold float64
	WorkerEndpoint   string

	Criteria []CriterionConfig
	Lexicon  *LexiconConfig
}

// ConfigDir returns the directory Initialize loaded reqminer.yaml from.
func (c *Config) ConfigDir() string { return c.configDir }

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Criteria           int
	HasLexiconOverride bool
	ValidationMaxConc  int
	RewriteMaxConc     int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Criteria:           len(c.Criteria),
		HasLexiconOverride: c.Lexicon != nil,
		ValidationMaxConc:  c.Concurrency.ValidationMaxConcurrent,
		RewriteMaxConc:     c.Concurrency.RewriteMaxConcurrent,
	}
}

// secondsOrDefault converts a positive integer count of seconds to a
// time.Duration, falling back to def when seconds is non-positive. Used
// to resolve *_TIMEOUT env vars, which spec.md §6 documents in seconds
// rather than Go duration syntax.
func secondsOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}
