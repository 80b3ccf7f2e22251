package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

func schemaObject() structured.Value {
	return structured.NewObject().
		Set("type", structured.String("object")).
		Set("properties", structured.NewObject().
			Set("message", structured.NewObject().Set("type", structured.String("string")).Build()).
			Build()).
		Set("required", structured.Array(structured.String("message"))).
		Set("additionalProperties", structured.Bool(false)).
		Build()
}

func buildRegistry(t *testing.T, invoker toolapi.Invoker) *toolreg.Registry {
	t.Helper()
	b := toolreg.NewBuilder()
	require.NoError(t, b.Register(toolreg.Descriptor{
		Name: "echo_json", Version: "1.0.0", Description: "echo tool",
		InputSchema: schemaObject(), Stability: toolreg.Stable,
		Examples: []toolreg.Example{{Title: "basic", Input: structured.NewObject().Set("message", structured.String("hi")).Build()}},
		Invoker:   invoker,
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T, invoker toolapi.Invoker, concurrency int) *Engine {
	t.Helper()
	runRoot := t.TempDir()
	reg := buildRegistry(t, invoker)
	seq := 0
	e, err := New(Config{
		Registry:    reg,
		RunRoot:     runRoot,
		Concurrency: concurrency,
		JobIDAllocator: func() string {
			seq++
			return jobIDFor(seq)
		},
	})
	require.NoError(t, err)
	return e
}

func jobIDFor(n int) string {
	return "job_" + pad4(n)
}

func pad4(n int) string {
	digits := []byte{'0', '0', '0', '0'}
	for i := 3; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func TestExecuteSuccess(t *testing.T) {
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		msg, _ := input.Get("message")
		s, _ := msg.AsString()
		return toolapi.ToolResult{Status: "ok", Solver: "echo_json", Summary: "echoed", Output: structured.String(s), ExitCode: 0}
	}
	e := newTestEngine(t, invoker, 2)
	out := e.Execute(context.Background(), Request{ToolName: "echo_json", Input: structured.NewObject().Set("message", structured.String("hi")).Build(), RequestID: "req_1"})
	require.Equal(t, 200, out.HTTPStatus)
	require.Equal(t, "ok", out.Result.Status)
	s, _ := out.Result.Output.AsString()
	require.Equal(t, "hi", s)
	reqID, ok := out.Result.Metrics["request_id"]
	require.True(t, ok)
	rs, _ := reqID.AsString()
	require.Equal(t, "req_1", rs)
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		return toolapi.ToolResult{Status: "ok"}
	}, 1)
	out := e.Execute(context.Background(), Request{ToolName: "does.not.exist", Input: structured.NewObject().Build()})
	require.Equal(t, 404, out.HTTPStatus)
	require.Equal(t, "error", out.Result.Status)
	code, _ := out.Result.Metrics["error_code"].AsString()
	require.Equal(t, "unknown_tool", code)
}

func TestExecuteInvalidInput(t *testing.T) {
	e := newTestEngine(t, func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		return toolapi.ToolResult{Status: "ok"}
	}, 1)
	out := e.Execute(context.Background(), Request{ToolName: "echo_json", Input: structured.NewObject().Set("n", structured.Number(1)).Build()})
	require.Equal(t, 400, out.HTTPStatus)
	code, _ := out.Result.Metrics["error_code"].AsString()
	require.Equal(t, "invalid_input", code)
}

func TestExecuteTimeout(t *testing.T) {
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		select {
		case <-time.After(2 * time.Second):
			return toolapi.ToolResult{Status: "ok"}
		case <-ctx.Done():
			return toolapi.ToolResult{Status: "error", Summary: "cancelled"}
		}
	}
	e := newTestEngine(t, invoker, 1)
	out := e.Execute(context.Background(), Request{
		ToolName: "echo_json",
		Input:    structured.NewObject().Set("message", structured.String("x")).Build(),
		Limits:   toolapi.ExecutionLimits{TimeoutMs: 50},
	})
	code, _ := out.Result.Metrics["error_code"].AsString()
	require.Equal(t, "timeout", code)
}

func TestExecuteAdmissionSaturation(t *testing.T) {
	release := make(chan struct{})
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		<-release
		return toolapi.ToolResult{Status: "ok"}
	}
	e := newTestEngine(t, invoker, 1)

	done := make(chan Outcome, 1)
	go func() {
		done <- e.Execute(context.Background(), Request{ToolName: "echo_json", Input: structured.NewObject().Set("message", structured.String("x")).Build()})
	}()
	time.Sleep(20 * time.Millisecond) // let the first invocation take the only slot

	out2 := e.Execute(context.Background(), Request{ToolName: "echo_json", Input: structured.NewObject().Set("message", structured.String("y")).Build()})
	require.Equal(t, 429, out2.HTTPStatus)
	require.Equal(t, 1, out2.RetryAfter)

	close(release)
	<-done
}

func TestExecutePanicRecovery(t *testing.T) {
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		panic("boom")
	}
	e := newTestEngine(t, invoker, 1)
	out := e.Execute(context.Background(), Request{ToolName: "echo_json", Input: structured.NewObject().Set("message", structured.String("x")).Build()})
	code, _ := out.Result.Metrics["error_code"].AsString()
	require.Equal(t, "runtime", code)
}
