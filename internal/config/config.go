// Package config implements AutoSage's configuration schema and its
// $include-resolving, env-expanding YAML/JSON5 loader: one struct field per
// concern, tags in `yaml:"..."`, a raw-map loader that resolves `$include`
// directives before the typed decode, and an fsnotify watcher (adapted from
// canvas/host.go's watchLoop debounce pattern) for hot reload.
package config

import (
	"runtime"
	"time"

	"github.com/autosage/autosage/internal/toolapi"
)

// Config is AutoSage's complete runtime configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Session       SessionConfig       `yaml:"session"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
	Planner       PlannerConfig       `yaml:"planner"`
}

// ServerConfig configures the HTTP listener and process-wide logging.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// EngineConfig configures the ExecutionEngine.
type EngineConfig struct {
	RunRoot       string                  `yaml:"run_root"`
	Concurrency   int                     `yaml:"concurrency"`
	DefaultLimits toolapi.ExecutionLimits `yaml:"default_limits"`
	MaxBodyBytes  int64                   `yaml:"max_body_bytes"`
	// Sandbox selects the engine's sandbox for every tool: "direct" (the
	// default) or "microvm" (engine.MicroVMSandbox, which also runs the
	// invoker in-process). microvm degrades to direct with a logged warning
	// when no jailer binary is on PATH.
	Sandbox          string `yaml:"sandbox"`
	JailerBinary     string `yaml:"jailer_binary"`
	MicroVMKernel    string `yaml:"microvm_kernel"`
	MicroVMRootDrive string `yaml:"microvm_root_drive"`
}

// SessionConfig configures the SessionManifold.
type SessionConfig struct {
	Root string `yaml:"root"`
}

// JobsConfig configures the JobStore and its scheduled pruning.
type JobsConfig struct {
	RunRoot       string        `yaml:"run_root"`
	PruneAfter    time.Duration `yaml:"prune_after"`
	PruneSchedule string        `yaml:"prune_schedule"`
	// Index selects the secondary-index backend: "sqlite" (default) or
	// "postgres".
	Index string `yaml:"index"`
	// IndexDSN is the driver-specific connection string for Index.
	IndexDSN string `yaml:"index_dsn"`
	// MirrorBucket, when set, enables the S3 artifact mirror.
	MirrorBucket string `yaml:"mirror_bucket"`
	MirrorRegion string `yaml:"mirror_region"`
}

// ObservabilityConfig configures metrics and tracing export.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// PlannerConfig selects and configures the plan-source backend the
// orchestrator drives.
type PlannerConfig struct {
	// Backend selects one of "static", "anthropic", "openai", "bedrock", "genai".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	System  string `yaml:"system"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GenAIAPIKey     string `yaml:"genai_api_key"`
	BedrockRegion   string `yaml:"bedrock_region"`

	// FixturePath points a "static" backend at a JSON array of canned plans,
	// served one per chat call in file order, for deterministic tests and demos.
	FixturePath string `yaml:"fixture_path"`
}

// Default returns the documented zero-config defaults: loopback host,
// port 8080, info logging, a workspace rooted at ./autosage-data, and a
// direct-sandbox engine with one admission slot per CPU.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080, LogLevel: "info"},
		Engine: EngineConfig{
			RunRoot:       "autosage-data/jobs",
			Concurrency:   runtime.NumCPU(),
			DefaultLimits: toolapi.DefaultLimits(),
			MaxBodyBytes:  64 * 1024 * 1024,
			Sandbox:       "direct",
		},
		Session: SessionConfig{Root: "autosage-data/sessions"},
		Jobs: JobsConfig{
			RunRoot:       "autosage-data/jobs",
			PruneAfter:    7 * 24 * time.Hour,
			PruneSchedule: "0 3 * * *",
			Index:         "sqlite",
			IndexDSN:      "autosage-data/jobs.db",
		},
		Observability: ObservabilityConfig{MetricsEnabled: true},
		Planner:       PlannerConfig{Backend: "static"},
	}
}
