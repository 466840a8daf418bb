// Package llm provides the CompletionClient collaborator: a vendor-agnostic
// wrapper around langchaingo's llms.Model, configured from a JSON profile
// file resolved against a small set of fallback paths.
package llm

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/openai"
)

// ModelConfig is one named model profile.
type ModelConfig struct {
	ModelName       string `json:"model_name"`
	Token           string `json:"token"`
	BaseURL         string `json:"base_url"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// Config is the on-disk llm_config.json shape: a named map of model
// profiles plus which one callers get when they don't ask for a
// particular one by name. Unlike the teacher's hardcoded per-vendor
// struct fields, profile names are arbitrary strings so adding a model
// is a config-file edit, not a recompile.
type Config struct {
	Profiles map[string]ModelConfig `json:"profiles"`
	Default  string                 `json:"default"`
}

// defaultSearchPaths mirrors the teacher's loadConfig: try the working
// directory, then one and two levels up, so the same binary works whether
// it's run from the repo root or a subpackage's test directory.
var defaultSearchPaths = []string{
	"llm_config.json",
	"../llm_config.json",
	"../../llm_config.json",
}

// LoadConfig reads the first readable, well-formed config file among paths
// (defaultSearchPaths if paths is empty).
func LoadConfig(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = defaultSearchPaths
	}

	var lastErr error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}

		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			lastErr = fmt.Errorf("parse %s: %w", path, err)
			continue
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("no llm config found in %v: %w", paths, lastErr)
}

// Profile looks up a named model profile, falling back to Default when
// name is empty.
func (c *Config) Profile(name string) (ModelConfig, error) {
	if name == "" {
		name = c.Default
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("no such model profile: %q", name)
	}
	return profile, nil
}

// NewClient builds a CompletionClient for the named profile (Default if
// name is empty).
func (c *Config) NewClient(name string) (CompletionClient, error) {
	profile, err := c.Profile(name)
	if err != nil {
		return nil, err
	}

	model, err := openai.New(
		openai.WithModel(profile.ModelName),
		openai.WithToken(profile.Token),
		openai.WithBaseURL(profile.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("construct llm client for profile %q: %w", name, err)
	}

	return &langchainClient{model: model, profileName: name}, nil
}
