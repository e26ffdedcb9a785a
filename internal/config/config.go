// Package config holds the explicit, passed-by-value configuration surface for
// the Semantic Index and Reasoning Core. There is no process-wide singleton of
// tunables: every component constructor takes a *Config (or one of its
// sub-structs) explicitly, so each CRDT actor can hold its own configuration
// and tests never need a reset between runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SIRC configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Morton      MortonConfig      `yaml:"morton"`
	Search      SearchConfig      `yaml:"search"`
	Federation  FederationConfig  `yaml:"federation"`
	Linker      LinkerConfig      `yaml:"linker"`
	Context     ContextConfig     `yaml:"context"`
	Reasoner    ReasonerConfig    `yaml:"reasoner"`
	Topic       TopicConfig       `yaml:"topic"`
	Memory      MemoryConfig      `yaml:"memory"`
	CRDT        CRDTConfig        `yaml:"crdt"`
	AI          AIConfig          `yaml:"ai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
}

// MortonConfig holds C1 quantizer/codec knobs.
type MortonConfig struct {
	EmbedDim     int `yaml:"embed_dim"`     // EMBED_DIM, full embedding width
	ReducedDims  int `yaml:"reduced_dims"`  // MORTON_REDUCED_DIMS (D)
	BitsPerDim   int `yaml:"bits_per_dim"`  // MORTON_BITS_PER_DIM (B)
	Reduction    string `yaml:"reduction"`  // "first" | "block_avg"
}

// SearchConfig holds C3 Searcher knobs.
type SearchConfig struct {
	TopK               int `yaml:"top_k"`
	PrefilterMultiplier int `yaml:"prefilter_multiplier"`
	RadiusPower        int `yaml:"radius_power"`
	MaxWideners        int `yaml:"max_wideners"`
}

// FederationConfig holds C4 Federated Cache knobs.
type FederationConfig struct {
	MaxCacheNodes int `yaml:"max_cache_nodes"`
}

// LinkerConfig holds C5 confidence-blend weights.
type LinkerConfig struct {
	Weights ConfidenceWeights `yaml:"confidence_weights"`
	MaxBatch int              `yaml:"max_batch"` // LINK_MAX_BATCH
}

// ConfidenceWeights are the {semantic, ai, lexical, contextual} blend weights
// used by both the Linker (§4.5) and the Reasoner (§4.7, Phase-7 profile).
type ConfidenceWeights struct {
	Semantic   float64 `yaml:"semantic"`
	AI         float64 `yaml:"ai"`
	Lexical    float64 `yaml:"lexical"`
	Contextual float64 `yaml:"contextual"`
}

// ContextConfig holds C6 Contextualizer knobs.
type ContextConfig struct {
	SuggestTopK      int     `yaml:"suggest_top_k"`      // CONTEXT_SUGGEST_TOPK
	LinkSimThreshold float64 `yaml:"link_sim_threshold"` // LINK_SIM_THRESHOLD
	HalfLifeHours    float64 `yaml:"half_life_hours"`    // CONTEXT_HALF_LIFE_HOURS
}

// ReasonerConfig holds C7 Reasoner knobs.
type ReasonerConfig struct {
	MaxBatch int               `yaml:"max_batch"` // REASONER_MAX_BATCH
	Weights  ConfidenceWeights `yaml:"phase7_weights"`
}

// TopicConfig holds C8 Topic Modeller knobs.
type TopicConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // TOPIC_SIMILARITY_THRESHOLD
	MaxTopics           int     `yaml:"max_topics"`           // TOPIC_MAX_TOPICS
	WindowMinutes       int     `yaml:"window_minutes"`       // TOPIC_WINDOW_MINUTES
	MaxKeywords         int     `yaml:"max_keywords"`         // TOPIC_MAX_KEYWORDS
	MinNodes            int     `yaml:"min_nodes"`            // TOPIC_MIN_NODES
	DecayWindow         string  `yaml:"decay_window"`         // half-life duration string
}

// MemoryConfig holds C9 Memory & Context Manager knobs.
type MemoryConfig struct {
	DatabasePath     string  `yaml:"database_path"`
	Alpha            float64 `yaml:"alpha"`
	Beta             float64 `yaml:"beta"`
	HalfLifeHours    float64 `yaml:"half_life_hours"`
	MaxInteractions  int     `yaml:"max_interactions"`
}

// CRDTConfig holds C10 CRDT Bus knobs.
type CRDTConfig struct {
	ActorID string `yaml:"actor_id"`
}

// AIConfig governs the external AI relation-extractor collaborator.
type AIConfig struct {
	Mode      string `yaml:"mode"` // "live" | "mock"
	TimeoutMS int    `yaml:"timeout_ms"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"-"`
}

// EmbeddingConfig governs the external embedding-generation collaborator.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "genai" | "mock"
	GenAIModel string `yaml:"genai_model"`
	GenAIAPIKey string `yaml:"-"`
	TaskType   string `yaml:"task_type"`
}

// LoggingConfig mirrors logging.Settings for YAML round-tripping.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// StorageConfig governs the Index Store's backing file.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	RequireVec   bool   `yaml:"require_vec"`
}

// DefaultConfig returns the default configuration, matching spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sirc",
		Version: "0.1.0",

		Morton: MortonConfig{
			EmbedDim:    512,
			ReducedDims: 8,
			BitsPerDim:  16,
			Reduction:   "first",
		},

		Search: SearchConfig{
			TopK:                10,
			PrefilterMultiplier: 3,
			RadiusPower:         12,
			MaxWideners:         3,
		},

		Federation: FederationConfig{
			MaxCacheNodes: 2500 * 2, // REASONER_MAX_BATCH * 2 default, see ReasonerConfig.MaxBatch
		},

		Linker: LinkerConfig{
			Weights:  ConfidenceWeights{Semantic: 0.5, AI: 0.3, Lexical: 0.1, Contextual: 0.1},
			MaxBatch: 2000,
		},

		Context: ContextConfig{
			SuggestTopK:      8,
			LinkSimThreshold: 0.78,
			HalfLifeHours:    72,
		},

		Reasoner: ReasonerConfig{
			MaxBatch: 2500,
			Weights:  ConfidenceWeights{Semantic: 0.4, AI: 0.3, Lexical: 0.15, Contextual: 0.15},
		},

		Topic: TopicConfig{
			SimilarityThreshold: 0.75,
			MaxTopics:           64,
			WindowMinutes:       1440,
			MaxKeywords:         10,
			MinNodes:            2,
			DecayWindow:         "168h",
		},

		Memory: MemoryConfig{
			DatabasePath:    "data/sirc.db",
			Alpha:           0.7,
			Beta:            0.3,
			HalfLifeHours:   72,
			MaxInteractions: 500,
		},

		CRDT: CRDTConfig{
			ActorID: "",
		},

		AI: AIConfig{
			Mode:      "mock",
			TimeoutMS: 30000,
			Model:     "gemini-2.5-flash",
		},

		Embedding: EmbeddingConfig{
			Provider:   "mock",
			GenAIModel: "gemini-embedding-001",
			TaskType:   "SEMANTIC_SIMILARITY",
		},

		Logging: LoggingConfig{
			Level: "info",
		},

		Storage: StorageConfig{
			DatabasePath: "data/sirc.db",
			RequireVec:   false,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over file/default values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SIRC_AI_MODE"); v != "" {
		c.AI.Mode = v
	}
	if v := os.Getenv("GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		c.AI.APIKey = v
		if c.Embedding.Provider == "" || c.Embedding.Provider == "mock" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("SIRC_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("SIRC_ACTOR_ID"); v != "" {
		c.CRDT.ActorID = v
	}
	if v := os.Getenv("SIRC_AI_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.AI.TimeoutMS = ms
		}
	}
	if v := os.Getenv("SIRC_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

// AITimeout returns the AI collaborator timeout as a duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutMS) * time.Millisecond
}

// TopicDecayWindow returns the topic weight decay half-life as a duration,
// defaulting to 168h (one week) on a malformed value.
func (c *Config) TopicDecayWindow() time.Duration {
	d, err := time.ParseDuration(c.Topic.DecayWindow)
	if err != nil {
		return 168 * time.Hour
	}
	return d
}

// LoggingSettings adapts LoggingConfig to logging.Settings without importing
// the logging package here (keeps config dependency-free of logging).
func (c *Config) LoggingSettings() (debugMode bool, categories map[string]bool, level string, jsonFormat bool) {
	return c.Logging.DebugMode, c.Logging.Categories, c.Logging.Level, c.Logging.JSONFormat
}
