// Package session implements AutoSage's SessionManifold: the per-session
// workspace that owns a fixed directory tree (input/ geometry/ mesh/ solve/
// render/ logs/) and a persisted manifest.json recording status, stage,
// planned tool, message history, and asset inventory. Every mutation is an
// atomic state transition serialized by a per-session lock; reads always see
// a consistent on-disk manifest because writes use write-temp-then-rename.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autosage/autosage/internal/mimetype"
	"github.com/autosage/autosage/internal/structured"
)

// Status is the session's coarse lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// subdirs are created under every session workspace at session creation.
var subdirs = []string{"input", "geometry", "mesh", "solve", "render", "logs"}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a manifest's ordered history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Manifest is the persisted, authoritative record of one session.
type Manifest struct {
	SessionID   string                      `json:"session_id"`
	Status      Status                      `json:"status"`
	Stage       string                      `json:"stage"`
	PlannedTool string                      `json:"planned_tool,omitempty"`
	Messages    []Message                   `json:"messages"`
	Assets      []string                    `json:"assets"`
	Metadata    map[string]structured.Value `json:"metadata,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func cloneManifest(m *Manifest) *Manifest {
	out := *m
	out.Messages = append([]Message(nil), m.Messages...)
	out.Assets = append([]string(nil), m.Assets...)
	if m.Metadata != nil {
		out.Metadata = make(map[string]structured.Value, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

var (
	// ErrNotFound is returned when a session id has no workspace on disk.
	ErrNotFound = errors.New("session: not found")
	// ErrForbidden is returned when a requested asset path escapes the
	// session workspace; surfaced as 404 by adapters to avoid probe leakage.
	ErrForbidden = errors.New("session: forbidden path")
	// ErrInvalidInput is returned when an uploaded filename sanitizes to empty.
	ErrInvalidInput = errors.New("session: invalid filename")
)

// unsafeFilenameChar matches anything outside [A-Za-z0-9._-].
var unsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename keeps only [A-Za-z0-9._-], collapsing runs of anything
// else into a single underscore, and rejects empty results.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(name)
	safe := unsafeFilenameChar.ReplaceAllString(base, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", ErrInvalidInput
	}
	return safe, nil
}

// Manifold owns every session workspace under one run root.
type Manifold struct {
	root string
	seq  atomic.Uint64

	locks sync.Map // map[string]*sync.Mutex

	mu       sync.RWMutex
	snapshot map[string]*Manifest
}

// Config configures a Manifold.
type Config struct {
	// Root is the directory under which every <session_id>/ workspace lives.
	Root string
}

// New creates a Manifold rooted at cfg.Root, creating it if necessary, and
// hydrates its in-memory snapshot map (and id counter) from any existing
// session_NNNN directories so restarts resume numbering cleanly.
func New(cfg Config) (*Manifold, error) {
	if cfg.Root == "" {
		return nil, errors.New("session: root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("session: create root: %w", err)
	}
	m := &Manifold{root: cfg.Root, snapshot: map[string]*Manifest{}}
	if err := m.hydrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifold) hydrate() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("session: read root: %w", err)
	}
	var maxSeq uint64
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}
		man, err := m.readManifest(entry.Name())
		if err != nil {
			continue
		}
		m.snapshot[man.SessionID] = man
		var seq uint64
		if _, err := fmt.Sscanf(man.SessionID, "session_%d", &seq); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	if maxSeq > 0 {
		m.seq.Store(maxSeq)
	}
	return nil
}

func (m *Manifold) nextID() string {
	return fmt.Sprintf("session_%04d", m.seq.Add(1))
}

func (m *Manifold) dir(id string) string { return filepath.Join(m.root, id) }

func (m *Manifold) manifestPath(id string) string {
	return filepath.Join(m.dir(id), "manifest.json")
}

func (m *Manifold) lockFor(id string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manifold) readManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(m.manifestPath(id))
	if err != nil {
		return nil, err
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, err
	}
	return &man, nil
}

func (m *Manifold) persist(man *Manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.manifestPath(man.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.manifestPath(man.SessionID)); err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshot[man.SessionID] = cloneManifest(man)
	m.mu.Unlock()
	return nil
}

// CreateFromUpload allocates a new session_NNNN, creates the fixed
// subdirectory tree, writes the upload under input/<safe_filename>, and
// persists the initial manifest (status=idle, stage=created).
func (m *Manifold) CreateFromUpload(ctx context.Context, filename string, data []byte) (*Manifest, error) {
	safe, err := sanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	id := m.nextID()
	base := m.dir(id)
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o755); err != nil {
			return nil, fmt.Errorf("session: create workspace: %w", err)
		}
	}

	assetRel := filepath.Join("input", safe)
	if err := os.WriteFile(filepath.Join(base, assetRel), data, 0o644); err != nil {
		return nil, fmt.Errorf("session: write upload: %w", err)
	}

	now := time.Now().UTC()
	man := &Manifest{
		SessionID: id,
		Status:    StatusIdle,
		Stage:     "created",
		Messages:  []Message{},
		Assets:    []string{filepath.ToSlash(assetRel)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.persist(man); err != nil {
		return nil, err
	}
	return cloneManifest(man), nil
}

// Get reads a session's manifest from disk (authoritative) and returns a
// snapshot.
func (m *Manifold) Get(ctx context.Context, id string) (*Manifest, error) {
	man, err := m.readManifest(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cloneManifest(man), nil
}

// AppendUserPrompt appends a user message with a fresh timestamp and
// rewrites the manifest.
func (m *Manifold) AppendUserPrompt(ctx context.Context, id, prompt string) (*Manifest, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	man, err := m.readManifest(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	man.Messages = append(man.Messages, Message{Role: RoleUser, Content: prompt, CreatedAt: time.Now().UTC()})
	man.UpdatedAt = time.Now().UTC()
	if err := m.persist(man); err != nil {
		return nil, err
	}
	return cloneManifest(man), nil
}

// TransitionOptions describes an apply_transition call. Zero values for
// Status/Stage/PlannedTool/AssistantMessage mean "leave unchanged";
// ClearPlannedTool empties PlannedTool and takes precedence over a
// non-empty PlannedTool.
type TransitionOptions struct {
	Status           Status
	Stage            string
	PlannedTool      string
	ClearPlannedTool bool
	AssistantMessage string
	AppendAssets     []string
	// Metadata keys are merged into the manifest's metadata map, overwriting
	// any existing value for the same key. A nil map leaves metadata
	// untouched.
	Metadata map[string]structured.Value
}

// ApplyTransition atomically merges fields into a session's manifest,
// dedup-appending assets (preserving first-insertion order), optionally
// appending an assistant message, and rewrites the manifest under the
// session's lock.
func (m *Manifold) ApplyTransition(ctx context.Context, id string, opts TransitionOptions) (*Manifest, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	man, err := m.readManifest(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if opts.Status != "" {
		man.Status = opts.Status
	}
	if opts.Stage != "" {
		man.Stage = opts.Stage
	}
	if opts.ClearPlannedTool {
		man.PlannedTool = ""
	} else if opts.PlannedTool != "" {
		man.PlannedTool = opts.PlannedTool
	}
	if opts.AssistantMessage != "" {
		man.Messages = append(man.Messages, Message{Role: RoleAssistant, Content: opts.AssistantMessage, CreatedAt: time.Now().UTC()})
	}
	if len(opts.AppendAssets) > 0 {
		man.Assets = dedupAppend(man.Assets, opts.AppendAssets)
	}
	if len(opts.Metadata) > 0 {
		if man.Metadata == nil {
			man.Metadata = make(map[string]structured.Value, len(opts.Metadata))
		}
		for k, v := range opts.Metadata {
			man.Metadata[k] = v
		}
	}
	man.UpdatedAt = time.Now().UTC()

	if err := m.persist(man); err != nil {
		return nil, err
	}
	return cloneManifest(man), nil
}

func dedupAppend(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	out := existing
	for _, a := range add {
		a = filepath.ToSlash(a)
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// Asset describes one file resolved through AssetReader.
type Asset struct {
	Name     string
	MimeType string
	Bytes    []byte
}

// AssetReader resolves relativePath against the session's workspace,
// enforcing that its real path stays a descendant of that workspace. Any
// ".." segment or symlink escape is reported as ErrForbidden, which adapters
// must surface as 404 (never 403) to avoid confirming a path's existence to
// a prober.
func (m *Manifold) AssetReader(ctx context.Context, id, relativePath string) (*Asset, error) {
	base := m.dir(id)
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	candidate := filepath.Join(base, relativePath)

	cleanBase, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	cleanCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return nil, err
	}
	if cleanCandidate != cleanBase && !strings.HasPrefix(cleanCandidate, cleanBase+string(filepath.Separator)) {
		return nil, ErrForbidden
	}

	resolved, err := filepath.EvalSymlinks(cleanCandidate)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	resolvedBase, err := filepath.EvalSymlinks(cleanBase)
	if err != nil {
		return nil, err
	}
	if resolved != resolvedBase && !strings.HasPrefix(resolved, resolvedBase+string(filepath.Separator)) {
		return nil, ErrForbidden
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrForbidden
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	return &Asset{Name: filepath.Base(resolved), MimeType: mimetype.Infer(resolved), Bytes: data}, nil
}

// List returns every session's current manifest, newest-first by CreatedAt.
// No HTTP route calls it.
func (m *Manifold) List(ctx context.Context) []*Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Manifest, 0, len(m.snapshot))
	for _, man := range m.snapshot {
		out = append(out, cloneManifest(man))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// WorkspaceDir exposes a session's absolute workspace directory, for tools
// that need to write into geometry/mesh/solve/render/logs directly.
func (m *Manifold) WorkspaceDir(id string) string { return m.dir(id) }
