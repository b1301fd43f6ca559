package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultsValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1536, cfg.Index.Dimensions)
	assert.Equal(t, GraphBackendMemory, cfg.Graph.Backend)
	assert.InDelta(t, 1.0, cfg.Retrieval.LexicalWeight+cfg.Retrieval.VectorWeight+cfg.Retrieval.GraphWeight, 0.001)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Retrieval.DefaultTopK)
}

func TestLoad_MergesYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
retrieval:
  lexical_weight: 0.5
  vector_weight: 0.3
  graph_weight: 0.2
index:
  dimensions: 768
  build_timeout: 1m
graph:
  backend: enhanced
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridrag.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Retrieval.LexicalWeight)
	assert.Equal(t, 768, cfg.Index.Dimensions)
	assert.Equal(t, time.Minute, cfg.Index.BuildTimeout)
	assert.Equal(t, GraphBackendEnhanced, cfg.Graph.Backend)
	// Untouched keys keep defaults.
	assert.Equal(t, 64, cfg.Index.BatchSize)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridrag.yaml"), []byte("index:\n  dimensions: 768\n"), 0o644))
	t.Setenv("HYBRIDRAG_DIMENSIONS", "384")
	t.Setenv("HYBRIDRAG_GRAPH_BACKEND", "enhanced")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Index.Dimensions)
	assert.Equal(t, GraphBackendEnhanced, cfg.Graph.Backend)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights off sum", func(c *Config) { c.Retrieval.LexicalWeight = 0.9 }},
		{"negative weight", func(c *Config) { c.Retrieval.GraphWeight = -0.2 }},
		{"zero dimensions", func(c *Config) { c.Index.Dimensions = 0 }},
		{"bad backend", func(c *Config) { c.Graph.Backend = "neo4j" }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"max below default", func(c *Config) { c.Retrieval.MaxTopK = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabasePath_DefaultsUnderDataDir(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.DataDir = "/tmp/ragdata"
	assert.Equal(t, filepath.Join("/tmp/ragdata", "engine.db"), cfg.DatabasePath())

	cfg.Paths.DatabasePath = "/elsewhere/x.db"
	assert.Equal(t, "/elsewhere/x.db", cfg.DatabasePath())
}
