package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

func echoExecutor(result toolapi.ToolResult, delay time.Duration) Executor {
	return func(ctx context.Context, jobID, toolName string, input structured.Value) toolapi.ToolResult {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return toolapi.ToolResult{Status: "error", Summary: "cancelled"}
			}
		}
		return result
	}
}

func waitForTerminal(t *testing.T, store Store, id string) *JobRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(id)
		require.NoError(t, err)
		if rec != nil && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", id)
	return nil
}

func newStore(t *testing.T, runRoot string, gen *requestid.Generator) *FileStore {
	t.Helper()
	store, err := NewFileStore(Config{RunRoot: runRoot, Generator: gen})
	require.NoError(t, err)
	return store
}

func TestDispatchAndComplete(t *testing.T) {
	runRoot := t.TempDir()
	gen := requestid.New()
	store := newStore(t, runRoot, gen)
	disp := NewDispatcher(store, echoExecutor(toolapi.ToolResult{Status: "ok", Summary: "done"}, 0))

	rec, _, err := disp.Dispatch(context.Background(), "echo_json", structured.NewObject().Build(), "req_1")
	require.NoError(t, err)
	require.Equal(t, "job_0001", rec.ID)
	require.Equal(t, StatusQueued, rec.Status)

	final := waitForTerminal(t, store, rec.ID)
	require.Equal(t, StatusSucceeded, final.Status)
	require.Equal(t, "done", final.Summary)

	data, err := os.ReadFile(filepath.Join(runRoot, rec.ID, "summary.json"))
	require.NoError(t, err)
	var onDisk JobRecord
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, StatusSucceeded, onDisk.Status)
}

func TestHydrationSeedsNextJobID(t *testing.T) {
	runRoot := t.TempDir()
	preexisting := filepath.Join(runRoot, "job_0042")
	require.NoError(t, os.MkdirAll(preexisting, 0o755))
	rec := JobRecord{ID: "job_0042", ToolName: "echo_json", Status: StatusSucceeded, CreatedAt: time.Now().Add(-time.Hour), FinishedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, atomicWriteJSON(filepath.Join(preexisting, "summary.json"), rec))

	gen := requestid.New()
	store := newStore(t, runRoot, gen)

	next, err := store.Create(context.Background(), "echo_json", structured.NewObject().Build(), "req_2")
	require.NoError(t, err)
	require.Equal(t, "job_0043", next.ID)
}

func TestCancelRunningJob(t *testing.T) {
	runRoot := t.TempDir()
	gen := requestid.New()
	store := newStore(t, runRoot, gen)
	disp := NewDispatcher(store, echoExecutor(toolapi.ToolResult{Status: "ok"}, 500*time.Millisecond))

	rec, _, err := disp.Dispatch(context.Background(), "echo_json", structured.NewObject().Build(), "req_3")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Cancel(rec.ID))

	final := waitForTerminal(t, store, rec.ID)
	require.Equal(t, StatusFailed, final.Status)
}

func TestListFilterAndPrune(t *testing.T) {
	runRoot := t.TempDir()
	gen := requestid.New()
	store := newStore(t, runRoot, gen)
	disp := NewDispatcher(store, echoExecutor(toolapi.ToolResult{Status: "ok"}, 0))

	for i := 0; i < 3; i++ {
		_, done, err := disp.Dispatch(context.Background(), "echo_json", structured.NewObject().Build(), "req")
		require.NoError(t, err)
		<-done
	}

	list, err := store.List(ListFilter{Status: StatusSucceeded, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := store.Prune(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	remaining, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestListArtifactsListsJobDirectoryFiles(t *testing.T) {
	runRoot := t.TempDir()
	gen := requestid.New()
	store := newStore(t, runRoot, gen)
	disp := NewDispatcher(store, echoExecutor(toolapi.ToolResult{Status: "ok"}, 0))

	rec, done, err := disp.Dispatch(context.Background(), "echo_json", structured.NewObject().Build(), "req")
	require.NoError(t, err)
	<-done

	artifacts, err := store.ListArtifacts(rec.ID)
	require.NoError(t, err)
	names := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		names[a.Name] = true
		require.Equal(t, "application/json", a.MimeType)
		require.Greater(t, a.Bytes, int64(0))
	}
	require.True(t, names["request.json"])
	require.True(t, names["summary.json"])
	require.True(t, names["result.json"])
}

func TestArtifactPathTraversalRejected(t *testing.T) {
	runRoot := t.TempDir()
	gen := requestid.New()
	store := newStore(t, runRoot, gen)
	disp := NewDispatcher(store, echoExecutor(toolapi.ToolResult{Status: "ok"}, 0))

	rec, done, err := disp.Dispatch(context.Background(), "echo_json", structured.NewObject().Build(), "req")
	require.NoError(t, err)
	<-done

	path, art, err := store.ReadArtifact(rec.ID, "summary.json")
	require.NoError(t, err)
	require.Equal(t, "summary.json", art.Name)
	require.FileExists(t, path)

	_, _, err = store.ReadArtifact(rec.ID, "../../etc/passwd")
	require.Error(t, err)
}
