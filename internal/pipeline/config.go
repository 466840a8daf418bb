package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config collects every tunable named in the options table: schema cache
// freshness, validator bounds, executor timeouts, LLM retry policy, and
// exporter/visualizer toggles. Loaded the same way internal/llm loads its
// model profiles: JSON file, first match among a small fallback path list.
type Config struct {
	SchemaCache SchemaCacheConfig `json:"schema_cache"`
	Validator   ValidatorConfig   `json:"validator"`
	Executor    ExecutorConfig    `json:"executor"`
	LLM         LLMConfig         `json:"llm"`
	Visualizer  VisualizerConfig  `json:"visualizer"`
	Exporter    ExporterConfig    `json:"exporter"`
}

type SchemaCacheConfig struct {
	TTL       time.Duration `json:"ttl"`
	Enabled   bool          `json:"enabled"`
	Directory string        `json:"directory"`
}

type ValidatorConfig struct {
	RowCapDefault      int `json:"row_cap_default"`
	RowCapMax          int `json:"row_cap_max"`
	StatementMaxBytes  int `json:"statement_max_bytes"`
}

type ExecutorConfig struct {
	StatementTimeout time.Duration `json:"statement_timeout"`
	MaxColumns       int           `json:"max_columns"`
	RetryTransient   bool          `json:"retry_transient"`
}

// LLMConfig holds the LLM retry option. RetryMalformed is loaded but not
// read by any stage: SQLGenerator always makes exactly one retry on a
// malformed generation, whatever its value.
type LLMConfig struct {
	RetryMalformed bool `json:"retry_malformed"`
}

type VisualizerConfig struct {
	Enabled  bool `json:"enabled"`
	DPI      int  `json:"dpi"`
	MaxPoints int `json:"max_points"`
	Directory string `json:"directory"`
}

type ExporterConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
}

// DefaultConfig returns the defaults spelled out in the options table.
func DefaultConfig() *Config {
	return &Config{
		SchemaCache: SchemaCacheConfig{
			TTL:       time.Hour,
			Enabled:   true,
			Directory: "cache",
		},
		Validator: ValidatorConfig{
			RowCapDefault:     1000,
			RowCapMax:         10000,
			StatementMaxBytes: 20 * 1024,
		},
		Executor: ExecutorConfig{
			StatementTimeout: 30 * time.Second,
			MaxColumns:       200,
			RetryTransient:   true,
		},
		LLM: LLMConfig{RetryMalformed: true},
		Visualizer: VisualizerConfig{
			Enabled:   true,
			DPI:       150,
			MaxPoints: 15,
			Directory: "viz",
		},
		Exporter: ExporterConfig{
			Enabled:   true,
			Directory: "exports",
		},
	}
}

var configSearchPaths = []string{
	"pipeline_config.json",
	"../pipeline_config.json",
	"../../pipeline_config.json",
}

// LoadConfig starts from DefaultConfig and overlays the first file among
// paths (configSearchPaths if none given) that exists; a missing file is
// not an error, since every field already has a sane default, but an
// existing file that fails to parse is.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	if len(paths) == 0 {
		paths = configSearchPaths
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg, nil
	}
	return cfg, nil
}
