// Package jobs implements AutoSage's JobStore: the durable record of every
// tool invocation submitted through the asynchronous /v1/jobs surface.
//
// The filesystem is the source of truth, exactly as ExecutionEngine treats
// its run root: each job gets a job_NNNN directory holding request.json,
// summary.json and result.json, written with the same write-temp-then-
// rename idiom engine.go uses. A SQL secondary index (sqlite by default,
// postgres optionally) is refreshed from those directories on startup and
// written on every persist and prune; no FileStore method reads it, so
// losing it, or it disagreeing with disk, can never produce an incorrect
// List, Get or Cancel.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/autosage/autosage/internal/mimetype"
	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

// Status mirrors the JobRecord lifecycle: queued -> running -> {succeeded,
// failed}. cancelled is a terminal status that Terminal recognizes, but no
// FileStore method assigns it: a job stopped through Cancel ends as failed.
// No other transition is permitted; attempts to Start a non-queued
// job or Complete/Fail a non-running one are no-ops, logged rather than
// erroring.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// JobError is the optional {code, message} pair a failed JobRecord carries.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobRecord is the durable shape persisted to summary.json and mirrored in
// the secondary index. Result is nil until the job reaches a terminal
// status.
type JobRecord struct {
	ID         string              `json:"id"`
	ToolName   string              `json:"tool_name"`
	RequestID  string              `json:"request_id,omitempty"`
	Status     Status              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  time.Time           `json:"started_at,omitempty"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
	Summary    string              `json:"summary,omitempty"`
	Result     *toolapi.ToolResult `json:"result,omitempty"`
	Error      *JobError           `json:"error,omitempty"`

	runCtx context.Context
	cancel context.CancelFunc
}

func cloneJob(j *JobRecord) *JobRecord {
	if j == nil {
		return nil
	}
	cp := *j
	cp.cancel = nil
	cp.runCtx = nil
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// ListFilter narrows List results. Zero value lists everything, newest
// first.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Store is the JobStore component: creates, transitions, and serves job records and their artifacts.
type Store interface {
	// Create allocates the next job_NNNN, creates its directory, writes
	// request.json when body is non-nil, and persists the initial queued
	// summary.json.
	Create(ctx context.Context, toolName string, body structured.Value, requestID string) (*JobRecord, error)
	// Start transitions a queued job to running. A no-op on any other
	// status.
	Start(ctx context.Context, id string) (*JobRecord, error)
	// Complete transitions a running job to succeeded, recording result
	// and summary. A no-op on any other status.
	Complete(ctx context.Context, id string, result toolapi.ToolResult, summary string) (*JobRecord, error)
	// Fail transitions a running job to failed, recording jobErr. result
	// may be the nil ToolResult carrying only error metrics.
	Fail(ctx context.Context, id string, jobErr JobError, result *toolapi.ToolResult) (*JobRecord, error)
	Get(id string) (*JobRecord, error)
	List(filter ListFilter) ([]*JobRecord, error)
	Cancel(id string) error
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
	ListArtifacts(id string) ([]toolapi.Artifact, error)
	ReadArtifact(id, name string) (string, toolapi.Artifact, error)
}

// FileStore is the filesystem-backed Store implementation. RunRoot is
// shared with the ExecutionEngine so synchronous and asynchronous
// invocations address the same job_NNNN namespace; Generator is the single
// shared requestid.Generator (see requestid.Generator.Job) so the two
// entrypoints never collide on an ID.
type FileStore struct {
	runRoot   string
	generator *requestid.Generator
	index     Index
	mirror    ArtifactMirror
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*JobRecord
	// order preserves creation order for List's default ordering.
	order []string
}

// Config configures a FileStore.
type Config struct {
	RunRoot   string
	Generator *requestid.Generator
	// Index, if set, receives every record written or pruned. FileStore
	// never reads it back; List always serves the in-memory map.
	Index Index
	// Mirror, if set, best-effort-copies artifacts offsite after a job
	// reaches a terminal status. A mirror error is logged, never fatal.
	Mirror ArtifactMirror
	Logger *slog.Logger
}

// NewFileStore constructs a FileStore and hydrates it from any job_*
// directories already present under cfg.RunRoot, seeding cfg.Generator so
// the next created job continues the existing sequence (the hydration
// boundary: a pre-existing job_0042 yields job_0043 next).
func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.RunRoot == "" {
		return nil, fmt.Errorf("jobs: run root is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("jobs: generator is required")
	}
	runRoot, err := filepath.Abs(cfg.RunRoot)
	if err != nil {
		return nil, fmt.Errorf("jobs: resolve run root: %w", err)
	}
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: mkdir run root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FileStore{
		runRoot:   runRoot,
		generator: cfg.Generator,
		index:     cfg.Index,
		mirror:    cfg.Mirror,
		logger:    logger,
		jobs:      make(map[string]*JobRecord),
	}
	if err := fs.hydrate(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) hydrate() error {
	entries, err := os.ReadDir(fs.runRoot)
	if err != nil {
		return fmt.Errorf("jobs: read run root: %w", err)
	}

	var maxSeq uint64
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job_") {
			continue
		}
		summaryPath := filepath.Join(fs.runRoot, entry.Name(), "summary.json")
		data, err := os.ReadFile(summaryPath)
		if err != nil {
			// Partial directory (crash mid-write): skip, don't fail startup.
			fs.logger.Warn("skipping job directory without summary.json", "dir", entry.Name())
			continue
		}
		var rec JobRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			fs.logger.Warn("skipping corrupt job summary.json", "dir", entry.Name(), "error", err)
			continue
		}
		fs.jobs[rec.ID] = &rec
		ids = append(ids, rec.ID)

		var seq uint64
		if _, scanErr := fmt.Sscanf(rec.ID, "job_%d", &seq); scanErr == nil && seq > maxSeq {
			maxSeq = seq
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		return fs.jobs[ids[i]].CreatedAt.Before(fs.jobs[ids[j]].CreatedAt)
	})
	fs.order = ids

	if maxSeq > 0 {
		fs.generator.SeedJob(maxSeq + 1)
	}
	if fs.index != nil {
		for _, id := range ids {
			_ = fs.index.Upsert(context.Background(), fs.jobs[id])
		}
	}
	return nil
}

func (fs *FileStore) jobDir(id string) string {
	return filepath.Join(fs.runRoot, id)
}

// RunContext returns the cancellation-bound context a Dispatcher should
// pass to the tool invoker for id, or context.Background() if id is
// unknown or carries no context (a record loaded by hydration). A finished
// job keeps its context.
func (fs *FileStore) RunContext(id string) context.Context {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if rec := fs.jobs[id]; rec != nil && rec.runCtx != nil {
		return rec.runCtx
	}
	return context.Background()
}

// JobDirectory returns the absolute job directory path for id, for callers
// (the Dispatcher, ExecutionEngine wiring) that need to point a tool
// invocation at the same directory this JobRecord owns.
func (fs *FileStore) JobDirectory(id string) string {
	return fs.jobDir(id)
}

// Create allocates the next job_NNNN, creates its directory, and persists a
// queued summary.json. body is written to request.json when non-null.
func (fs *FileStore) Create(ctx context.Context, toolName string, body structured.Value, requestID string) (*JobRecord, error) {
	id := fs.generator.Job()
	dir := fs.jobDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: mkdir job dir: %w", err)
	}

	if !body.IsNull() {
		if err := atomicWriteJSON(filepath.Join(dir, "request.json"), body.ToAny()); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rec := &JobRecord{
		ID:        id,
		ToolName:  toolName,
		RequestID: requestID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		runCtx:    runCtx,
		cancel:    cancel,
	}

	if err := fs.persist(rec); err != nil {
		cancel()
		return nil, err
	}

	fs.mu.Lock()
	fs.jobs[id] = rec
	fs.order = append(fs.order, id)
	fs.mu.Unlock()

	return cloneJob(rec), nil
}

// Start transitions id from queued to running.
func (fs *FileStore) Start(ctx context.Context, id string) (*JobRecord, error) {
	fs.mu.Lock()
	rec := fs.jobs[id]
	if rec == nil {
		fs.mu.Unlock()
		return nil, fmt.Errorf("jobs: unknown job %q", id)
	}
	if rec.Status != StatusQueued {
		fs.logger.Warn("ignoring start of non-queued job", "job_id", id, "status", rec.Status)
		snap := cloneJob(rec)
		fs.mu.Unlock()
		return snap, nil
	}
	rec.Status = StatusRunning
	rec.StartedAt = time.Now().UTC()
	snapshot := cloneJob(rec)
	fs.mu.Unlock()

	if err := fs.persist(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Complete transitions a running job to succeeded.
func (fs *FileStore) Complete(ctx context.Context, id string, result toolapi.ToolResult, summary string) (*JobRecord, error) {
	return fs.finish(id, StatusSucceeded, &result, summary, nil)
}

// Fail transitions a running job to failed.
func (fs *FileStore) Fail(ctx context.Context, id string, jobErr JobError, result *toolapi.ToolResult) (*JobRecord, error) {
	summary := ""
	if result != nil {
		summary = result.Summary
	}
	return fs.finish(id, StatusFailed, result, summary, &jobErr)
}

func (fs *FileStore) finish(id string, status Status, result *toolapi.ToolResult, summary string, jobErr *JobError) (*JobRecord, error) {
	fs.mu.Lock()
	rec := fs.jobs[id]
	if rec == nil {
		fs.mu.Unlock()
		return nil, fmt.Errorf("jobs: unknown job %q", id)
	}
	if rec.Status != StatusRunning {
		fs.logger.Warn("ignoring terminal transition of non-running job", "job_id", id, "status", rec.Status, "attempted", status)
		snap := cloneJob(rec)
		fs.mu.Unlock()
		return snap, nil
	}
	rec.Status = status
	rec.FinishedAt = time.Now().UTC()
	rec.Result = result
	rec.Summary = summary
	rec.Error = jobErr
	snapshot := cloneJob(rec)
	fs.mu.Unlock()

	if err := fs.persist(snapshot); err != nil {
		return nil, err
	}
	if result != nil {
		if err := atomicWriteJSON(filepath.Join(fs.jobDir(id), "result.json"), result); err != nil {
			fs.logger.Warn("write result.json failed", "job_id", id, "error", err)
		}
	}

	if fs.mirror != nil {
		if artifacts, err := fs.ListArtifacts(id); err == nil && len(artifacts) > 0 {
			paths := make([]string, len(artifacts))
			for i, a := range artifacts {
				paths[i] = a.Path
			}
			go func() {
				if err := fs.mirror.Mirror(context.Background(), id, paths); err != nil {
					fs.logger.Warn("artifact mirror failed", "job_id", id, "error", err)
				}
			}()
		}
	}
	return snapshot, nil
}

func (fs *FileStore) persist(rec *JobRecord) error {
	if fs.index != nil {
		_ = fs.index.Upsert(context.Background(), rec)
	}
	return atomicWriteJSON(filepath.Join(fs.jobDir(rec.ID), "summary.json"), rec)
}

// Get returns the current JobRecord, or nil if id is unknown.
func (fs *FileStore) Get(id string) (*JobRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return cloneJob(fs.jobs[id]), nil
}

// List returns jobs newest-first, optionally filtered by status.
func (fs *FileStore) List(filter ListFilter) ([]*JobRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*JobRecord, 0, len(fs.order))
	for i := len(fs.order) - 1; i >= 0; i-- {
		rec := fs.jobs[fs.order[i]]
		if rec == nil {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(rec))
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Cancel invokes the cancellation signal for a running or queued job. A
// no-op, successfully, for jobs already terminal.
func (fs *FileStore) Cancel(id string) error {
	fs.mu.Lock()
	rec := fs.jobs[id]
	if rec == nil {
		fs.mu.Unlock()
		return fmt.Errorf("jobs: unknown job %q", id)
	}
	if rec.Status.Terminal() {
		fs.mu.Unlock()
		return nil
	}
	cancel := rec.cancel
	fs.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Prune removes job directories (and their index rows) whose FinishedAt is
// older than olderThan. Running/queued jobs are never pruned.
func (fs *FileStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	fs.mu.Lock()
	var victims []string
	for _, id := range fs.order {
		rec := fs.jobs[id]
		if rec == nil || !rec.Status.Terminal() || rec.FinishedAt.IsZero() {
			continue
		}
		if rec.FinishedAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(fs.jobs, id)
	}
	if len(victims) > 0 {
		victimSet := make(map[string]bool, len(victims))
		for _, id := range victims {
			victimSet[id] = true
		}
		kept := fs.order[:0]
		for _, id := range fs.order {
			if !victimSet[id] {
				kept = append(kept, id)
			}
		}
		fs.order = kept
	}
	fs.mu.Unlock()

	for _, id := range victims {
		if err := os.RemoveAll(fs.jobDir(id)); err != nil {
			return len(victims), fmt.Errorf("jobs: prune %s: %w", id, err)
		}
		if fs.index != nil {
			_ = fs.index.Delete(ctx, id)
		}
	}
	return len(victims), nil
}

// ListArtifacts enumerates regular files directly in the job directory —
// request.json, summary.json, result.json, and anything the tool invoker
// wrote alongside them — excluding subdirectories and symlinks, with mime
// type inferred the same way ExecutionEngine.normalize infers it.
func (fs *FileStore) ListArtifacts(id string) ([]toolapi.Artifact, error) {
	dir := fs.jobDir(id)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: list artifacts: %w", err)
	}
	out := make([]toolapi.Artifact, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if entry.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		out = append(out, toolapi.Artifact{
			Name:     entry.Name(),
			Path:     filepath.Join(dir, entry.Name()),
			MimeType: mimetype.Infer(entry.Name()),
			Bytes:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadArtifact resolves name to an on-disk path within the job directory,
// refusing any path that escapes it (path-traversal defense).
func (fs *FileStore) ReadArtifact(id, name string) (string, toolapi.Artifact, error) {
	dir := fs.jobDir(id)
	candidate := filepath.Join(dir, name)

	cleanDir, err := filepath.Abs(dir)
	if err != nil {
		return "", toolapi.Artifact{}, err
	}
	cleanCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", toolapi.Artifact{}, err
	}
	if cleanCandidate != cleanDir && !strings.HasPrefix(cleanCandidate, cleanDir+string(filepath.Separator)) {
		return "", toolapi.Artifact{}, fmt.Errorf("jobs: artifact path escapes job directory")
	}
	resolvedDir, err := filepath.EvalSymlinks(cleanDir)
	if err != nil {
		return "", toolapi.Artifact{}, err
	}
	resolved, err := filepath.EvalSymlinks(cleanCandidate)
	if err != nil {
		return "", toolapi.Artifact{}, err
	}
	if resolved != resolvedDir && !strings.HasPrefix(resolved, resolvedDir+string(filepath.Separator)) {
		return "", toolapi.Artifact{}, fmt.Errorf("jobs: artifact path escapes job directory")
	}

	info, err := os.Stat(cleanCandidate)
	if err != nil {
		return "", toolapi.Artifact{}, err
	}
	if info.IsDir() {
		return "", toolapi.Artifact{}, fmt.Errorf("jobs: artifact is a directory")
	}
	return cleanCandidate, toolapi.Artifact{Name: name, Path: cleanCandidate, MimeType: mimetype.Infer(name), Bytes: info.Size()}, nil
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jobs: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("jobs: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("jobs: rename %s: %w", tmp, err)
	}
	return nil
}
