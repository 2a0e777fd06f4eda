package config

import "time"

// CriterionConfig is the YAML shape of one rubric weight override.
type CriterionConfig struct {
	Key    string  `yaml:"key"`
	Weight float64 `yaml:"weight"`
}

// LexiconConfig is the YAML shape of a pluggable actor/entity/action
// heuristic set (spec.md §9 Open Question: no default locale commitment,
// kept pluggable). Mirrors pkg/kgbuild.Lexicon's fields one for one so
// the loader can hand it straight to kgbuild.Lexicon{...} at wiring time
// without pkg/config importing pkg/kgbuild.
type LexiconConfig struct {
	Name           string   `yaml:"name"`
	Actors         []string `yaml:"actors"`
	Entities       []string `yaml:"entities"`
	ActionSuffixes []string `yaml:"action_suffixes"`
}

// QdrantConfig groups vector store connection settings.
type QdrantConfig struct {
	URL    string `yaml:"url"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// Dims is the embedder's output dimension; must match the embedder
	// wired at startup (spec.md §6: 384 for a compact sentence-transformer,
	// 1536 for OpenAI-style).
	Dims int `yaml:"dims"`
}

// PersistenceConfig groups relational store connection settings.
type PersistenceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ChunkingConfig groups the chunking engine's token-window parameters.
type ChunkingConfig struct {
	TokensMin     int `yaml:"tokens_min"`
	TokensMax     int `yaml:"tokens_max"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// ConcurrencyConfig groups per-stage worker-pool bounds and per-task
// deadlines (spec.md §4.5, §6).
type ConcurrencyConfig struct {
	ValidationMaxConcurrent int           `yaml:"validation_max_concurrent"`
	RewriteMaxConcurrent    int           `yaml:"rewrite_max_concurrent"`
	ValidationTimeout       time.Duration `yaml:"-"`
	RewriteTimeout          time.Duration `yaml:"-"`
}

// TriadConfig groups the Planner/Solver/Verifier reflection loop's
// bounds (spec.md §9's state-machine redesign).
type TriadConfig struct {
	MaxRounds    int           `yaml:"max_rounds"`
	RoundTimeout time.Duration `yaml:"-"`
}

// ReqminerYAMLConfig is the complete reqminer.yaml file structure.
type ReqminerYAMLConfig struct {
	Criteria []CriterionConfig `yaml:"criteria"`
	Lexicon  *LexiconConfig    `yaml:"lexicon"`
	Defaults *Defaults         `yaml:"defaults"`
}

// Defaults groups the system-wide tunables that have both a built-in
// value and an env-var override, mirroring the teacher's Defaults/Queue
// split between YAML-authored and env-driven settings.
type Defaults struct {
	ModelName        string  `yaml:"model_name"`
	VerdictThreshold float64 `yaml:"verdict_threshold"`
	// WorkerEndpoint is the source's REQ_WORKER_ENDPOINT escape hatch: if
	// set, each mined Requirement DTO is POSTed there fire-and-forget
	// (spec.md §9 Open Question — no retry contract given).
	WorkerEndpoint string `yaml:"worker_endpoint"`
}
