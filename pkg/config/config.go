package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MCPServer describes one external tool server. Either URL (streamable HTTP)
// or Command must be set.
type MCPServer struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Config is the fully merged runtime configuration. Precedence, lowest to
// highest: built-in defaults, YAML config file, environment variables.
type Config struct {
	GoogleApiKey    string `yaml:"-"`
	AnthropicApiKey string `yaml:"-"`
	MistralApiKey   string `yaml:"-"`
	DatabaseURL     string `yaml:"database_url"`

	ReasoningModel string   `yaml:"reasoning_model"`
	FastModel      string   `yaml:"fast_model"`
	FallbackModels []string `yaml:"fallback_models"`
	EmbeddingModel string   `yaml:"embedding_model"`

	Port           string `yaml:"port"`
	CollectionName string `yaml:"collection_name"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	DistanceThreshold   float64 `yaml:"distance_threshold"`

	MaxSubQueries    int `yaml:"max_sub_queries"`
	MaxSubtopics     int `yaml:"max_subtopics"`
	MaxSearchResults int `yaml:"max_search_results"`
	MaxConcurrency   int `yaml:"max_concurrency"`
	RetryAttempts    int `yaml:"retry_attempts"`
	TotalDepth       int `yaml:"total_depth"`

	SubtopicTimeout time.Duration `yaml:"subtopic_timeout"`
	HeaderTimeout   time.Duration `yaml:"header_timeout"`
	ScrapeTimeout   time.Duration `yaml:"scrape_timeout"`

	StrictCitations bool `yaml:"strict_citations"`

	Retrievers   []string    `yaml:"retrievers"`
	SearxURL     string      `yaml:"searx_url"`
	DocumentPath string      `yaml:"document_path"`
	DocumentURLs []string    `yaml:"document_urls"`
	MCPServers   []MCPServer `yaml:"mcp_servers"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() *Config {
	return &Config{
		ReasoningModel:      "gemini-3-pro-preview",
		FastModel:           "gemini-3-flash-preview",
		EmbeddingModel:      "gemini-embedding-001",
		Port:                "3000",
		CollectionName:      "research_db",
		ChunkSize:           1000,
		ChunkOverlap:        200,
		SimilarityThreshold: 0.35,
		DistanceThreshold:   0.65,
		MaxSubQueries:       3,
		MaxSubtopics:        5,
		MaxSearchResults:    10,
		MaxConcurrency:      3,
		RetryAttempts:       3,
		TotalDepth:          2,
		SubtopicTimeout:     180 * time.Second,
		HeaderTimeout:       60 * time.Second,
		ScrapeTimeout:       30 * time.Second,
		Retrievers:          []string{"arxiv"},
	}
}

// Load merges defaults, an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.GoogleApiKey = getEnv("GOOGLE_API_KEY", c.GoogleApiKey)
	c.AnthropicApiKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicApiKey)
	c.MistralApiKey = getEnv("MISTRAL_API_KEY", c.MistralApiKey)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.ReasoningModel = getEnv("REASONING_MODEL", c.ReasoningModel)
	c.FastModel = getEnv("FAST_MODEL", c.FastModel)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.Port = getEnv("PORT", c.Port)
	c.CollectionName = getEnv("COLLECTION_NAME", c.CollectionName)
	c.SearxURL = getEnv("SEARX_URL", c.SearxURL)
	c.DocumentPath = getEnv("DOCUMENT_PATH", c.DocumentPath)
	c.ChunkSize = getEnvAsInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.MaxSubQueries = getEnvAsInt("MAX_SUB_QUERIES", c.MaxSubQueries)
	c.MaxSubtopics = getEnvAsInt("MAX_SUBTOPICS", c.MaxSubtopics)
	c.MaxSearchResults = getEnvAsInt("MAX_SEARCH_RESULTS", c.MaxSearchResults)
	c.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", c.RetryAttempts)
	c.TotalDepth = getEnvAsInt("TOTAL_DEPTH", c.TotalDepth)

	if v := os.Getenv("RETRIEVERS"); v != "" {
		parts := strings.Split(v, ",")
		c.Retrievers = c.Retrievers[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				c.Retrievers = append(c.Retrievers, p)
			}
		}
	}
	if v := os.Getenv("FALLBACK_MODELS"); v != "" {
		c.FallbackModels = strings.Split(v, ",")
	}
	if v := os.Getenv("STRICT_CITATIONS"); v != "" {
		c.StrictCitations = v == "true" || v == "1"
	}
}

// Validate reports configuration errors. These are fatal for a run and are
// never retried.
func (c *Config) Validate() error {
	if c.GoogleApiKey == "" && c.AnthropicApiKey == "" {
		return fmt.Errorf("no LLM provider configured: set GOOGLE_API_KEY or ANTHROPIC_API_KEY")
	}
	if len(c.Retrievers) == 0 && len(c.MCPServers) == 0 {
		return fmt.Errorf("no retrievers configured")
	}
	if c.MaxSubQueries < 1 {
		return fmt.Errorf("max_sub_queries must be >= 1, got %d", c.MaxSubQueries)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
