package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_noYAMLFallsBackToBuiltinDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultValidationMaxConcurrent, cfg.Concurrency.ValidationMaxConcurrent)
	assert.Equal(t, DefaultModelName, cfg.ModelName)
	assert.InDelta(t, DefaultVerdictThreshold, cfg.VerdictThreshold, 0.0001)
	assert.Nil(t, cfg.Lexicon)
}

func TestInitialize_envVarsOverrideBuiltinDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VALIDATION_MAX_CONCURRENT", "9")
	t.Setenv("VERDICT_THRESHOLD", "0.85")
	t.Setenv("MODEL_NAME", "gpt-4o")
	t.Setenv("QDRANT_URL", "qdrant.internal")
	t.Setenv("QDRANT_PORT", "6333")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Concurrency.ValidationMaxConcurrent)
	assert.InDelta(t, 0.85, cfg.VerdictThreshold, 0.0001)
	assert.Equal(t, "gpt-4o", cfg.ModelName)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.URL)
	assert.Equal(t, 6333, cfg.Qdrant.Port)
}

func TestInitialize_yamlCriteriaAndLexiconLoaded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reqminer.yaml", `
criteria:
  - key: clarity
    weight: 2.0
  - key: testability
    weight: 1.0
lexicon:
  name: en
  actors: ["user", "admin"]
  entities: ["profile"]
  action_suffixes: ["s", "ing"]
defaults:
  model_name: gpt-4o-mini
  verdict_threshold: 0.75
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, cfg.Criteria, 2)
	assert.Equal(t, "clarity", cfg.Criteria[0].Key)
	require.NotNil(t, cfg.Lexicon)
	assert.Equal(t, "en", cfg.Lexicon.Name)
	assert.InDelta(t, 0.75, cfg.VerdictThreshold, 0.0001)
}

func TestInitialize_envVarWinsOverYAMLDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reqminer.yaml", `
defaults:
  model_name: yaml-model
`)
	t.Setenv("MODEL_NAME", "env-model")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.ModelName)
}

func TestInitialize_envExpansionInYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_QDRANT_KEY", "secret-123")
	writeFile(t, dir, "reqminer.yaml", `
defaults:
  worker_endpoint: https://hooks.example.com/ingest?key=${TEST_QDRANT_KEY}
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/ingest?key=secret-123", cfg.WorkerEndpoint)
}

func TestInitialize_invalidYAMLReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reqminer.yaml", "criteria: [this is not valid: yaml: at all")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitialize_invalidVerdictThresholdFailsValidation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VERDICT_THRESHOLD", "1.5")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestInitialize_chunkOverlapMustBeLessThanMin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHUNK_TOKENS_MIN", "100")
	t.Setenv("CHUNK_OVERLAP_TOKENS", "100")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestValidator_duplicateCriterionKeyRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Criteria = []CriterionConfig{{Key: "clarity", Weight: 1}, {Key: "clarity", Weight: 2}}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}
