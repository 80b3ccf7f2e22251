package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/jobs"
	"github.com/autosage/autosage/internal/requestid"
	"github.com/autosage/autosage/internal/session"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

func echoSchema() structured.Value {
	return structured.NewObject().
		Set("type", structured.String("object")).
		Set("properties", structured.NewObject().
			Set("message", structured.NewObject().Set("type", structured.String("string")).Build()).
			Build()).
		Set("required", structured.Array(structured.String("message"))).
		Set("additionalProperties", structured.Bool(false)).
		Build()
}

func echoInvoker(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	msg, _ := input.Get("message")
	s, _ := msg.AsString()
	return toolapi.ToolResult{Status: "ok", Solver: "echo_json", Summary: "echoed " + s, Output: structured.String(s), ExitCode: 0}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := toolreg.NewBuilder()
	require.NoError(t, b.Register(toolreg.Descriptor{
		Name: "echo_json", Version: "1.0.0", Description: "echo tool",
		InputSchema: echoSchema(), Stability: toolreg.Stable,
		Examples: []toolreg.Example{{Title: "basic", Input: structured.NewObject().Set("message", structured.String("hi")).Build()}},
		Invoker:   echoInvoker,
	}))
	reg, err := b.Build()
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{Registry: reg, RunRoot: t.TempDir(), Concurrency: 2})
	require.NoError(t, err)

	gen := requestid.New()
	store, err := jobs.NewFileStore(jobs.Config{RunRoot: t.TempDir(), Generator: gen})
	require.NoError(t, err)

	dispatcher := jobs.NewDispatcher(store, func(ctx context.Context, jobID, toolName string, input structured.Value) toolapi.ToolResult {
		return eng.Execute(ctx, engine.Request{ToolName: toolName, Input: input, JobID: jobID, JobDirectory: store.JobDirectory(jobID)}).Result
	})

	sessions, err := session.New(session.Config{Root: t.TempDir()})
	require.NoError(t, err)

	srv, err := New(Config{
		Registry:   reg,
		Engine:     eng,
		Jobs:       store,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Generator:  gen,
	})
	require.NoError(t, err)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
}

func TestExecuteEchoDeterministic(t *testing.T) {
	srv := newTestServer(t)
	payload := []byte(`{"tool":"echo_json","input":{"message":"hello"}}`)

	req1 := httptest.NewRequest(http.MethodPost, "/v1/tools/execute", bytes.NewReader(payload))
	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/tools/execute", bytes.NewReader(payload))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var result1, result2 toolapi.ToolResult
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &result1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &result2))
	require.Equal(t, result1.Summary, result2.Summary)
	require.Equal(t, result1.Output, result2.Output)
}

func TestExecuteUnknownToolReturns404(t *testing.T) {
	srv := newTestServer(t)
	payload := []byte(`{"tool":"does.not.exist","input":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/execute", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var result toolapi.ToolResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "error", result.Status)
	require.Equal(t, "does.not.exist", result.Solver)
	code, _ := result.Metrics["error_code"].AsString()
	require.Equal(t, "unknown_tool", code)
}

func TestCreateJobAndListArtifacts(t *testing.T) {
	srv := newTestServer(t)
	payload := []byte(`{"tool_name":"echo_json","input":{"message":"hi"},"mode":"sync","wait_ms":2000}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created createJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Regexp(t, `^job_\d{4}$`, created.JobID)

	artReq := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID+"/artifacts", nil)
	artRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(artRec, artReq)
	require.Equal(t, http.StatusOK, artRec.Code)

	var body struct {
		Artifacts []toolapi.Artifact `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(artRec.Body.Bytes(), &body))
	names := make(map[string]bool)
	for _, a := range body.Artifacts {
		names[a.Name] = true
		require.Greater(t, a.Bytes, int64(0))
	}
	require.True(t, names["summary.json"])
}

func TestCreateSessionAndAssetTraversalDefense(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "cube.obj")
	require.NoError(t, err)
	_, err = part.Write([]byte("v 0 0 0\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.SessionID, nil)
	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	traversalReq := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.SessionID+"/assets/..%2Fmanifest.json", nil)
	traversalRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(traversalRec, traversalReq)
	require.Equal(t, http.StatusNotFound, traversalRec.Code)
}
