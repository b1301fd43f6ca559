// Package config loads and validates engine configuration.
// Precedence: hardcoded defaults < YAML file < HYBRIDRAG_* env vars.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GraphBackendMemory is the classic adjacency-map graph backend.
const GraphBackendMemory = "memory"

// GraphBackendEnhanced is the semantically-scored graph backend.
const GraphBackendEnhanced = "enhanced"

// Config represents the complete engine configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Graph     GraphConfig     `yaml:"graph" json:"graph"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// DataDir holds the persisted index artifacts and logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// DatabasePath is the SQLite file holding chunks, graph tables, and
	// the RAG configuration row. Empty means <data_dir>/engine.db.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// RetrievalConfig configures fusion behavior.
type RetrievalConfig struct {
	// LexicalWeight, VectorWeight, and GraphWeight scale each source's
	// normalized score during fusion. They must sum to 1.0.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	GraphWeight   float64 `yaml:"graph_weight" json:"graph_weight"`

	// DefaultTopK is used when a request does not specify top_k.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	// MaxTopK caps per-request top_k.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
}

// IndexConfig configures index construction.
type IndexConfig struct {
	// Dimensions is the embedding dimension enforced by the vector index.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the number of chunks ingested per batch during builds.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BuildTimeout bounds a full index build. Partial progress is kept
	// when the budget is exceeded.
	BuildTimeout time.Duration `yaml:"build_timeout" json:"build_timeout"`
}

// GraphConfig configures the graph store.
type GraphConfig struct {
	// Backend is the default graph backend when no persisted RAG config
	// row exists yet: "memory" or "enhanced".
	Backend string `yaml:"backend" json:"backend"`
	// PageRankDamping is the damping factor for pagerank centrality.
	PageRankDamping float64 `yaml:"pagerank_damping" json:"pagerank_damping"`
	// SearchCacheSize is the LRU size for the enhanced backend's
	// per-query node score cache.
	SearchCacheSize int `yaml:"search_cache_size" json:"search_cache_size"`
}

// ServerConfig configures the serving surface.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			// Vector carries the most weight: embeddings catch paraphrase
			// matches the lexical index misses. Graph is a booster.
			LexicalWeight: 0.35,
			VectorWeight:  0.45,
			GraphWeight:   0.20,
			DefaultTopK:   10,
			MaxTopK:       100,
		},
		Index: IndexConfig{
			Dimensions:   1536,
			BatchSize:    64,
			BuildTimeout: 10 * time.Minute,
		},
		Graph: GraphConfig{
			Backend:         GraphBackendMemory,
			PageRankDamping: 0.85,
			SearchCacheSize: 1024,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// defaultDataDir returns the default index data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag")
	}
	return filepath.Join(home, ".hybridrag")
}

// DatabasePath resolves the SQLite path, defaulting under the data dir.
func (c *Config) DatabasePath() string {
	if c.Paths.DatabasePath != "" {
		return c.Paths.DatabasePath
	}
	return filepath.Join(c.Paths.DataDir, "engine.db")
}

// Load loads configuration from dir/.hybridrag.yaml (if present), then
// applies environment overrides and validates.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts .hybridrag.yaml then .hybridrag.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".hybridrag.yaml", ".hybridrag.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine - use defaults.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.DatabasePath != "" {
		c.Paths.DatabasePath = other.Paths.DatabasePath
	}

	// Weights: zero is not a practical value, only merge non-zero.
	if other.Retrieval.LexicalWeight != 0 {
		c.Retrieval.LexicalWeight = other.Retrieval.LexicalWeight
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.GraphWeight != 0 {
		c.Retrieval.GraphWeight = other.Retrieval.GraphWeight
	}
	if other.Retrieval.DefaultTopK != 0 {
		c.Retrieval.DefaultTopK = other.Retrieval.DefaultTopK
	}
	if other.Retrieval.MaxTopK != 0 {
		c.Retrieval.MaxTopK = other.Retrieval.MaxTopK
	}

	if other.Index.Dimensions != 0 {
		c.Index.Dimensions = other.Index.Dimensions
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}
	if other.Index.BuildTimeout != 0 {
		c.Index.BuildTimeout = other.Index.BuildTimeout
	}

	if other.Graph.Backend != "" {
		c.Graph.Backend = other.Graph.Backend
	}
	if other.Graph.PageRankDamping != 0 {
		c.Graph.PageRankDamping = other.Graph.PageRankDamping
	}
	if other.Graph.SearchCacheSize != 0 {
		c.Graph.SearchCacheSize = other.Graph.SearchCacheSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies HYBRIDRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYBRIDRAG_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("HYBRIDRAG_DATABASE_PATH"); v != "" {
		c.Paths.DatabasePath = v
	}
	if v := os.Getenv("HYBRIDRAG_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("HYBRIDRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("HYBRIDRAG_GRAPH_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.GraphWeight = w
		}
	}
	if v := os.Getenv("HYBRIDRAG_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Index.Dimensions = d
		}
	}
	if v := os.Getenv("HYBRIDRAG_BUILD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Index.BuildTimeout = d
		}
	}
	if v := os.Getenv("HYBRIDRAG_GRAPH_BACKEND"); v != "" {
		c.Graph.Backend = v
	}
	if v := os.Getenv("HYBRIDRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	for name, w := range map[string]float64{
		"lexical_weight": c.Retrieval.LexicalWeight,
		"vector_weight":  c.Retrieval.VectorWeight,
		"graph_weight":   c.Retrieval.GraphWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, w)
		}
	}

	sum := c.Retrieval.LexicalWeight + c.Retrieval.VectorWeight + c.Retrieval.GraphWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("retrieval weights must sum to 1.0, got %.2f", sum)
	}

	if c.Retrieval.DefaultTopK <= 0 {
		return fmt.Errorf("default_top_k must be positive, got %d", c.Retrieval.DefaultTopK)
	}
	if c.Retrieval.MaxTopK < c.Retrieval.DefaultTopK {
		return fmt.Errorf("max_top_k (%d) must be >= default_top_k (%d)", c.Retrieval.MaxTopK, c.Retrieval.DefaultTopK)
	}

	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Index.Dimensions)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Index.BatchSize)
	}

	switch c.Graph.Backend {
	case GraphBackendMemory, GraphBackendEnhanced:
	default:
		return fmt.Errorf("graph.backend must be %q or %q, got %q", GraphBackendMemory, GraphBackendEnhanced, c.Graph.Backend)
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
