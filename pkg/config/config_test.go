package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	fileContent := `
reasoning_model: file-model
chunk_size: 2000
subtopic_timeout: 90s
retrievers:
  - searx
  - arxiv
`
	if err := os.WriteFile(path, []byte(fileContent), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REASONING_MODEL", "env-model")
	t.Setenv("CHUNK_OVERLAP", "150")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Env overrides file
	if cfg.ReasoningModel != "env-model" {
		t.Errorf("ReasoningModel = %q, want %q", cfg.ReasoningModel, "env-model")
	}
	// File overrides default
	if cfg.ChunkSize != 2000 {
		t.Errorf("ChunkSize = %d, want 2000", cfg.ChunkSize)
	}
	if cfg.SubtopicTimeout != 90*time.Second {
		t.Errorf("SubtopicTimeout = %v, want 90s", cfg.SubtopicTimeout)
	}
	if len(cfg.Retrievers) != 2 || cfg.Retrievers[0] != "searx" {
		t.Errorf("Retrievers = %v, want [searx arxiv]", cfg.Retrievers)
	}
	// Env overrides default
	if cfg.ChunkOverlap != 150 {
		t.Errorf("ChunkOverlap = %d, want 150", cfg.ChunkOverlap)
	}
	// Untouched default survives
	if cfg.SimilarityThreshold != 0.35 {
		t.Errorf("SimilarityThreshold = %v, want 0.35", cfg.SimilarityThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.GoogleApiKey = "key" }, false},
		{"no provider", func(c *Config) {}, true},
		{"no retrievers", func(c *Config) {
			c.GoogleApiKey = "key"
			c.Retrievers = nil
		}, true},
		{"mcp servers count as retrievers", func(c *Config) {
			c.GoogleApiKey = "key"
			c.Retrievers = nil
			c.MCPServers = []MCPServer{{Name: "search", URL: "http://localhost:9000/mcp"}}
		}, false},
		{"zero sub queries", func(c *Config) {
			c.GoogleApiKey = "key"
			c.MaxSubQueries = 0
		}, true},
		{"overlap exceeds chunk size", func(c *Config) {
			c.GoogleApiKey = "key"
			c.ChunkOverlap = 1000
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
