package llm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name string, cfg map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal test config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig_FirstExistingPathWins(t *testing.T) {
	dir := t.TempDir()
	good := writeConfigFile(t, dir, "llm_config.json", map[string]interface{}{
		"default": "fast",
		"profiles": map[string]interface{}{
			"fast": map[string]interface{}{"model_name": "gpt-4o-mini", "token": "tok", "base_url": "https://api.example.com"},
		},
	})

	cfg, err := LoadConfig(filepath.Join(dir, "missing.json"), good)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Default != "fast" {
		t.Errorf("expected default profile 'fast', got %q", cfg.Default)
	}
	if _, ok := cfg.Profiles["fast"]; !ok {
		t.Errorf("expected the 'fast' profile to be loaded")
	}
}

func TestLoadConfig_NoPathsFoundReturnsError(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"))
	if err == nil {
		t.Fatal("expected an error when no config file exists at any search path")
	}
}

func TestLoadConfig_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm_config.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("failed to write malformed config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestProfile_NamedLookup(t *testing.T) {
	cfg := &Config{
		Default: "fast",
		Profiles: map[string]ModelConfig{
			"fast":     {ModelName: "gpt-4o-mini"},
			"accurate": {ModelName: "gpt-4o"},
		},
	}
	p, err := cfg.Profile("accurate")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.ModelName != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %q", p.ModelName)
	}
}

func TestProfile_EmptyNameFallsBackToDefault(t *testing.T) {
	cfg := &Config{
		Default: "fast",
		Profiles: map[string]ModelConfig{
			"fast": {ModelName: "gpt-4o-mini"},
		},
	}
	p, err := cfg.Profile("")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.ModelName != "gpt-4o-mini" {
		t.Errorf("expected the default profile's model, got %q", p.ModelName)
	}
}

func TestProfile_UnknownNameIsAnError(t *testing.T) {
	cfg := &Config{
		Default:  "fast",
		Profiles: map[string]ModelConfig{"fast": {ModelName: "gpt-4o-mini"}},
	}
	if _, err := cfg.Profile("nonexistent"); err == nil {
		t.Fatal("expected an error for an unknown profile name")
	}
}

func TestNewClient_UnknownProfileSurfacesError(t *testing.T) {
	cfg := &Config{
		Default:  "fast",
		Profiles: map[string]ModelConfig{"fast": {ModelName: "gpt-4o-mini"}},
	}
	if _, err := cfg.NewClient("nonexistent"); err == nil {
		t.Fatal("expected NewClient to surface Profile's lookup error")
	}
}
