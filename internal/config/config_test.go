package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 512, cfg.Morton.EmbedDim)
	assert.Equal(t, 8, cfg.Morton.ReducedDims)
	assert.Equal(t, 16, cfg.Morton.BitsPerDim)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 0.78, cfg.Context.LinkSimThreshold)
	assert.InDelta(t, 1.0, cfg.Linker.Weights.Semantic+cfg.Linker.Weights.AI+cfg.Linker.Weights.Lexical+cfg.Linker.Weights.Contextual, 1e-9)
	assert.InDelta(t, 1.0, cfg.Reasoner.Weights.Semantic+cfg.Reasoner.Weights.AI+cfg.Reasoner.Weights.Lexical+cfg.Reasoner.Weights.Contextual, 1e-9)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sirc", cfg.Name)
}

func TestLoad_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Search.TopK = 25
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Search.TopK)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("AI mode override", func(t *testing.T) {
		t.Setenv("SIRC_AI_MODE", "live")
		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "live", cfg.AI.Mode)
	})

	t.Run("genai key switches embedding provider from mock", func(t *testing.T) {
		t.Setenv("GENAI_API_KEY", "test-key")
		cfg := &Config{Embedding: EmbeddingConfig{Provider: "mock"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "genai", cfg.Embedding.Provider)
		assert.Equal(t, "test-key", cfg.Embedding.GenAIAPIKey)
	})

	t.Run("explicit provider is not overridden", func(t *testing.T) {
		t.Setenv("GENAI_API_KEY", "test-key")
		cfg := &Config{Embedding: EmbeddingConfig{Provider: "genai"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("db path override", func(t *testing.T) {
		t.Setenv("SIRC_DB_PATH", "/tmp/custom.db")
		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/custom.db", cfg.Storage.DatabasePath)
		assert.Equal(t, "/tmp/custom.db", cfg.Memory.DatabasePath)
	})
}

func TestAITimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AI.TimeoutMS = 1500
	assert.Equal(t, 1500_000_000, int(cfg.AITimeout()))
}

func TestTopicDecayWindow_FallsBackOnInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topic.DecayWindow = "not-a-duration"
	assert.Equal(t, 168*3600_000_000_000, int(cfg.TopicDecayWindow()))
}
