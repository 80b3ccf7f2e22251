// Package engine implements the ExecutionEngine: the policy layer around
// every tool invocation. It is grounded on a semaphore-gated concurrency
// limiter with per-call context.WithTimeout and panic recovery at the
// goroutine boundary, adapted from a chat-tool-call executor into a
// seven-stage pipeline (resolve, schema-validate, admission, context,
// dispatch, normalize, persist).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/mimetype"
	"github.com/autosage/autosage/internal/observability"
	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

// Config configures an Engine.
type Config struct {
	Registry       *toolreg.Registry
	RunRoot        string
	Concurrency    int // default admission semaphore capacity
	DefaultLimits  toolapi.ExecutionLimits
	Sandbox        Sandbox // defaults to DirectSandbox
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	JobIDAllocator func() string // allocates the next "job_NNNN" id; defaults to a private counter
}

// Engine is the concurrency-gated, policy-wrapping invoker of registered
// tools.
type Engine struct {
	registry   *toolreg.Registry
	runRoot    string
	sem        chan struct{}
	defaults   toolapi.ExecutionLimits
	sandbox    Sandbox
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	allocateID func() string
}

// New constructs an Engine from cfg, applying documented defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}
	if cfg.RunRoot == "" {
		return nil, fmt.Errorf("engine: run root is required")
	}
	runRoot, err := filepath.Abs(cfg.RunRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve run root: %w", err)
	}
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create run root: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sandbox := cfg.Sandbox
	if sandbox == nil {
		sandbox = DirectSandbox{}
	}
	defaults := cfg.DefaultLimits
	if defaults == (toolapi.ExecutionLimits{}) {
		defaults = toolapi.DefaultLimits()
	}
	allocate := cfg.JobIDAllocator
	if allocate == nil {
		allocate = requestid.New().Job
	}
	return &Engine{
		registry:   cfg.Registry,
		runRoot:    runRoot,
		sem:        make(chan struct{}, concurrency),
		defaults:   defaults,
		sandbox:    sandbox,
		logger:     nilSafeLogger(cfg.Logger),
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("autosage/engine"),
		allocateID: allocate,
	}, nil
}

// Request is the input to Execute.
type Request struct {
	ToolName  string
	Input     structured.Value
	RequestID string
	Limits    toolapi.ExecutionLimits // overrides merged onto defaults

	// JobID and JobDirectory let a caller (JobStore) pre-allocate the
	// directory so async jobs and this engine's own synchronous path share
	// one id/directory namespace. When empty, Execute allocates its own.
	JobID        string
	JobDirectory string

	// RawBody, when non-nil, is persisted verbatim to request.json (stage 4).
	RawBody []byte
}

// Outcome carries the produced ToolResult plus the HTTP status an adapter
// should use, following the documented per-stage status codes.
type Outcome struct {
	Result     toolapi.ToolResult
	HTTPStatus int
	JobID      string
	RetryAfter int // seconds; only set for too_many_requests
}

// Execute runs the seven-stage pipeline. Every stage produces a ToolResult
// even on failure — no unhandled error ever crosses this boundary.
func (e *Engine) Execute(ctx context.Context, req Request) Outcome {
	ctx, span := e.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("tool", req.ToolName),
		attribute.String("request_id", req.RequestID),
	))
	defer span.End()

	// Stage 1: resolve.
	descriptor, ok := e.registry.Lookup(req.ToolName)
	if !ok {
		span.SetStatus(codes.Error, "unknown_tool")
		return Outcome{
			Result: toolapi.ToolResult{
				Status: "error", Solver: req.ToolName, ExitCode: 1,
				Summary: fmt.Sprintf("no tool registered as %q", req.ToolName),
			}.WithErrorCode(string(apierr.UnknownTool)),
			HTTPStatus: apierr.HTTPStatus(apierr.UnknownTool),
		}
	}

	// Stage 2: schema-validate.
	if schema := descriptor.CompiledSchema(); schema != nil {
		if err := schema.Validate(req.Input.ToAny()); err != nil {
			span.SetStatus(codes.Error, "invalid_input")
			return Outcome{
				Result: toolapi.ToolResult{
					Status: "error", Solver: req.ToolName, ExitCode: 1,
					Summary: "input failed schema validation",
					Stderr:  err.Error(),
				}.WithErrorCode(string(apierr.InvalidInput)),
				HTTPStatus: apierr.HTTPStatus(apierr.InvalidInput),
			}
		}
	}

	// Stage 3: admission (non-blocking; zero wait).
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	default:
		if e.metrics != nil {
			e.metrics.AdmissionRejected.Inc()
		}
		span.SetStatus(codes.Error, "too_many_requests")
		return Outcome{
			Result: toolapi.ToolResult{
				Status: "error", Solver: req.ToolName, ExitCode: 1,
				Summary: "server at capacity",
			}.WithErrorCode(string(apierr.TooManyRequests)),
			HTTPStatus: apierr.HTTPStatus(apierr.TooManyRequests),
			RetryAfter: 1,
		}
	}

	// Stage 4: context.
	jobID := req.JobID
	if jobID == "" {
		jobID = e.allocateID()
	}
	jobDir := req.JobDirectory
	if jobDir == "" {
		jobDir = filepath.Join(e.runRoot, jobID)
	}
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		span.SetStatus(codes.Error, "runtime")
		return Outcome{
			Result: toolapi.ToolResult{
				Status: "error", Solver: req.ToolName, ExitCode: 1,
				Summary: "could not allocate job directory", Stderr: err.Error(),
			}.WithErrorCode(string(apierr.Runtime)),
			HTTPStatus: 200,
		}
	}
	if req.RawBody != nil {
		_ = atomicWriteFile(filepath.Join(jobDir, "request.json"), req.RawBody)
	}

	limits := e.defaults.Merge(req.Limits)
	invokeCtx, cancel := context.WithTimeout(ctx, limits.Timeout())
	defer cancel()

	ec := &toolapi.ExecutionContext{
		JobID:        jobID,
		JobDirectory: jobDir,
		RequestID:    req.RequestID,
		Limits:       limits,
		Context:      invokeCtx,
	}

	// Stage 5: dispatch, on a worker from the pool, with timeout and panic
	// recovery at the goroutine boundary.
	start := time.Now()
	result := e.dispatch(invokeCtx, descriptor, ec, req.Input, limits)
	duration := time.Since(start)

	// Stage 6: normalize.
	result = e.normalize(result, ec, limits, req.RequestID)

	// Stage 7: persist.
	e.persist(jobDir, result)

	if e.metrics != nil {
		e.metrics.ObserveInvocation(req.ToolName, result.Status, duration)
	}
	if result.Status != "ok" {
		span.SetStatus(codes.Error, result.Status)
	}

	status := 200
	if code, ok := result.Metrics["error_code"]; ok {
		if s, ok := code.AsString(); ok {
			status = apierr.HTTPStatus(apierr.Code(s))
		}
	}
	return Outcome{Result: result, HTTPStatus: status, JobID: jobID}
}

func (e *Engine) dispatch(ctx context.Context, d *toolreg.Descriptor, ec *toolapi.ExecutionContext, input structured.Value, limits toolapi.ExecutionLimits) (result toolapi.ToolResult) {
	done := make(chan toolapi.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- toolapi.ToolResult{
					Status: "error", Solver: d.Name, ExitCode: 1,
					Summary: "tool invocation panicked",
					Stderr:  truncate(fmt.Sprintf("%v\n%s", r, debug.Stack()), limits.MaxStderrBytes),
				}.WithErrorCode(string(apierr.Runtime))
				return
			}
		}()
		done <- e.sandbox.Run(ctx, d.Invoker, ec, input)
	}()

	select {
	case result = <-done:
		return result
	case <-ctx.Done():
		return toolapi.ToolResult{
			Status: "error", Solver: d.Name, ExitCode: 1,
			Summary: "tool invocation exceeded its time budget",
		}.WithErrorCode(string(apierr.Timeout))
	}
}

func (e *Engine) normalize(result toolapi.ToolResult, ec *toolapi.ExecutionContext, limits toolapi.ExecutionLimits, requestID string) toolapi.ToolResult {
	if result.Metrics == nil {
		result.Metrics = map[string]structured.Value{}
	}

	stdout, stdoutDropped := truncateBytes(result.Stdout, limits.MaxStdoutBytes)
	stderr, stderrDropped := truncateBytes(result.Stderr, limits.MaxStderrBytes)
	result.Stdout = stdout
	result.Stderr = stderr
	if stdoutDropped > 0 {
		result.Metrics["stdout_truncated_bytes"] = structured.Number(float64(stdoutDropped))
	}
	if stderrDropped > 0 {
		result.Metrics["stderr_truncated_bytes"] = structured.Number(float64(stderrDropped))
	}

	if summary := []rune(result.Summary); len(summary) > limits.MaxSummaryCharacters {
		cut := limits.MaxSummaryCharacters
		if cut < 0 {
			cut = 0
		}
		result.Summary = string(summary[:cut]) + "… limits: truncated"
	}

	artifacts := result.Artifacts
	rejected := 0
	kept := make([]toolapi.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if len(kept) >= limits.MaxArtifacts {
			rejected++
			continue
		}
		full := filepath.Join(ec.JobDirectory, filepath.Base(a.Path))
		if filepath.IsAbs(a.Path) {
			full = a.Path
		}
		info, err := os.Stat(full)
		if err != nil {
			rejected++
			continue
		}
		if info.Size() > limits.MaxArtifactBytes {
			rejected++
			continue
		}
		a.Bytes = info.Size()
		if a.MimeType == "" {
			a.MimeType = mimetype.Infer(a.Name)
		}
		kept = append(kept, a)
	}
	result.Artifacts = kept
	if rejected > 0 {
		result.Metrics["artifact_rejected_count"] = structured.Number(float64(rejected))
	}
	if requestID != "" {
		result.Metrics["request_id"] = structured.String(requestID)
	}
	if result.Status == "" {
		result.Status = "ok"
	}
	if result.Solver == "" {
		result.Solver = "unknown"
	}
	return result
}

func (e *Engine) persist(jobDir string, result toolapi.ToolResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		e.logger.Error("engine: marshal result", "error", err)
		return
	}
	if err := atomicWriteFile(filepath.Join(jobDir, "result.json"), data); err != nil {
		e.logger.Error("engine: persist result.json", "error", err)
	}
	summary := map[string]any{
		"solver":    result.Solver,
		"status":    result.Status,
		"summary":   result.Summary,
		"exit_code": result.ExitCode,
	}
	sdata, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		if err := atomicWriteFile(filepath.Join(jobDir, "summary.json"), sdata); err != nil {
			e.logger.Error("engine: persist summary.json", "error", err)
		}
	}
}

// atomicWriteFile implements the write-to-temp-then-rename idiom used
// throughout this codebase's persistence code paths, guaranteeing
// atomicity on the same filesystem.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func nilSafeLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func truncateBytes(s string, max int) (string, int) {
	if max <= 0 || len(s) <= max {
		return s, 0
	}
	return s[:max], len(s) - max
}

// ListArtifacts enumerates regular files in a job directory, matching
// JobStore.list_artifacts's contract so both the synchronous execute
// path and async jobs share the same artifact-listing shape.
func ListArtifacts(jobDir string) ([]toolapi.Artifact, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return nil, err
	}
	out := make([]toolapi.Artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, toolapi.Artifact{
			Name:     entry.Name(),
			Path:     filepath.Join(jobDir, entry.Name()),
			MimeType: mimetype.Infer(entry.Name()),
			Bytes:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
