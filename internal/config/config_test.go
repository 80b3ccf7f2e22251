package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesOverridesOntoDefaults(t *testing.T) {
	path := writeConfig(t, "autosage.yaml", `
server:
  port: 9090
planner:
  backend: anthropic
  anthropic_api_key: ${TEST_AUTOSAGE_KEY}
`)
	t.Setenv("TEST_AUTOSAGE_KEY", "sk-test-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("Server.Host = %q, want default preserved", cfg.Server.Host)
	}
	if cfg.Planner.Backend != "anthropic" {
		t.Fatalf("Planner.Backend = %q, want anthropic", cfg.Planner.Backend)
	}
	if cfg.Planner.AnthropicAPIKey != "sk-test-123" {
		t.Fatalf("Planner.AnthropicAPIKey = %q, want env expansion", cfg.Planner.AnthropicAPIKey)
	}
	if cfg.Engine.DefaultLimits.TimeoutMs != 30_000 {
		t.Fatalf("Engine.DefaultLimits.TimeoutMs = %d, want default preserved", cfg.Engine.DefaultLimits.TimeoutMs)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "autosage.yaml", `
server:
  host: 0.0.0.0
  bogus_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "planner.yaml")
	if err := os.WriteFile(basePath, []byte("planner:\n  backend: static\n  model: fixture-v1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "autosage.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: planner.yaml\nserver:\n  port: 7000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Planner.Model != "fixture-v1" {
		t.Fatalf("Planner.Model = %q, want included value", cfg.Planner.Model)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(aPath); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load() error = %v, want include cycle detected", err)
	}
}

func TestLoadJSON5Source(t *testing.T) {
	path := writeConfig(t, "autosage.json5", `
{
  // trailing commas and comments are both fine in json5
  server: { port: 8181, },
  planner: { backend: "openai", },
}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Fatalf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Planner.Backend != "openai" {
		t.Fatalf("Planner.Backend = %q, want openai", cfg.Planner.Backend)
	}
}

func TestDefaultIsUsableStandalone(t *testing.T) {
	cfg := Default()
	if cfg.Engine.Concurrency <= 0 {
		t.Fatalf("Engine.Concurrency = %d, want positive default", cfg.Engine.Concurrency)
	}
	if cfg.Jobs.RunRoot == "" {
		t.Fatalf("Jobs.RunRoot is empty, want a default path")
	}
}
