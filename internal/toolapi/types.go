// Package toolapi defines the shapes shared between the tool registry and
// the execution engine: ExecutionContext, ExecutionLimits, ToolResult, and
// the Invoker function type a tool descriptor wraps. Splitting these out of
// both internal/toolreg and internal/engine avoids an import cycle between
// the two (the registry holds invokers that reference these types; the
// engine looks up descriptors from the registry and feeds them these types).
package toolapi

import (
	"context"
	"time"

	"github.com/autosage/autosage/internal/structured"
)

// ExecutionLimits bounds one invocation's resource usage.
type ExecutionLimits struct {
	TimeoutMs            int64 `json:"timeout_ms" yaml:"timeout_ms"`
	MaxStdoutBytes       int   `json:"max_stdout_bytes" yaml:"max_stdout_bytes"`
	MaxStderrBytes       int   `json:"max_stderr_bytes" yaml:"max_stderr_bytes"`
	MaxArtifactBytes     int64 `json:"max_artifact_bytes" yaml:"max_artifact_bytes"`
	MaxArtifacts         int   `json:"max_artifacts" yaml:"max_artifacts"`
	MaxSummaryCharacters int   `json:"max_summary_characters" yaml:"max_summary_characters"`
}

// DefaultLimits returns the documented defaults, overridable per request.
func DefaultLimits() ExecutionLimits {
	return ExecutionLimits{
		TimeoutMs:            30_000,
		MaxStdoutBytes:       64 * 1024,
		MaxStderrBytes:       64 * 1024,
		MaxArtifactBytes:     64 * 1024 * 1024,
		MaxArtifacts:         32,
		MaxSummaryCharacters: 2000,
	}
}

// Merge overlays non-zero fields of override onto the receiver, returning a
// new ExecutionLimits (request overrides defaults).
func (l ExecutionLimits) Merge(override ExecutionLimits) ExecutionLimits {
	out := l
	if override.TimeoutMs > 0 {
		out.TimeoutMs = override.TimeoutMs
	}
	if override.MaxStdoutBytes > 0 {
		out.MaxStdoutBytes = override.MaxStdoutBytes
	}
	if override.MaxStderrBytes > 0 {
		out.MaxStderrBytes = override.MaxStderrBytes
	}
	if override.MaxArtifactBytes > 0 {
		out.MaxArtifactBytes = override.MaxArtifactBytes
	}
	if override.MaxArtifacts > 0 {
		out.MaxArtifacts = override.MaxArtifacts
	}
	if override.MaxSummaryCharacters > 0 {
		out.MaxSummaryCharacters = override.MaxSummaryCharacters
	}
	return out
}

// Timeout returns the configured timeout as a time.Duration.
func (l ExecutionLimits) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// ExecutionContext is constructed per invocation and lives only for that
// call. JobDirectory is an absolute path under the configured run root.
type ExecutionContext struct {
	JobID        string
	JobDirectory string
	RequestID    string
	Limits       ExecutionLimits

	// Context carries the invocation's deadline and cancellation signal.
	// Invokers must select on ctx.Done() and return promptly with a partial
	// ToolResult when it fires.
	Context context.Context
}

// Cancelled reports whether the invocation's context has been cancelled.
func (ec *ExecutionContext) Cancelled() bool {
	if ec == nil || ec.Context == nil {
		return false
	}
	select {
	case <-ec.Context.Done():
		return true
	default:
		return false
	}
}

// Artifact describes one file a tool invocation produced.
type Artifact struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Bytes    int64  `json:"bytes"`
}

// ToolResult is the canonical in-band result of any tool invocation,
// successful or not.
type ToolResult struct {
	Status   string                      `json:"status"`
	Solver   string                      `json:"solver"`
	Summary  string                      `json:"summary"`
	Stdout   string                      `json:"stdout"`
	Stderr   string                      `json:"stderr"`
	ExitCode int                         `json:"exit_code"`
	Artifacts []Artifact                 `json:"artifacts"`
	Metrics  map[string]structured.Value `json:"metrics"`
	Output   structured.Value            `json:"output"`
}

// Ok reports whether the result represents success.
func (r ToolResult) Ok() bool { return r.Status == "ok" }

// WithErrorCode returns a copy of the result whose Metrics is a fresh copy
// of the original map with error_code set. Tools should prefer this helper over
// mutating Metrics directly so every error path sets the field uniformly.
func (r ToolResult) WithErrorCode(code string) ToolResult {
	m := make(map[string]structured.Value, len(r.Metrics)+1)
	for k, v := range r.Metrics {
		m[k] = v
	}
	m["error_code"] = structured.String(code)
	r.Metrics = m
	return r
}

// Invoker performs a tool's actual work. It runs synchronously on a worker
// from the engine's pool; it may block on filesystem I/O or subprocesses and
// must honor ctx cancellation by returning a partial ToolResult promptly.
type Invoker func(ctx context.Context, ec *ExecutionContext, input structured.Value) ToolResult
