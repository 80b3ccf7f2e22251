package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/planner"
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

func newTestEngine(t *testing.T, invoker toolapi.Invoker) *engine.Engine {
	t.Helper()
	b := toolreg.NewBuilder()
	require.NoError(t, b.Register(toolreg.Descriptor{
		Name: "echo_json", Version: "1.0.0", Description: "echo tool",
		InputSchema: echoSchema(), Stability: toolreg.Stable,
		Examples: []toolreg.Example{{Title: "basic", Input: structured.NewObject().Set("message", structured.String("hi")).Build()}},
		Invoker:   invoker,
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	seq := 0
	e, err := engine.New(engine.Config{
		Registry:    reg,
		RunRoot:     t.TempDir(),
		Concurrency: 2,
		JobIDAllocator: func() string {
			seq++
			return "job_0001"
		},
	})
	require.NoError(t, err)
	return e
}

func newTestManifold(t *testing.T) *session.Manifold {
	t.Helper()
	m, err := session.New(session.Config{Root: t.TempDir()})
	require.NoError(t, err)
	return m
}

type staticSource struct {
	plan planner.Plan
	err  error
}

func (s staticSource) Plan(ctx context.Context, sessionID string, history []planner.HistoryMessage, prompt string) (planner.Plan, error) {
	return s.plan, s.err
}

func drain(events <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRunSuccessEmitsOrderedEvents(t *testing.T) {
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		msg, _ := input.Get("message")
		s, _ := msg.AsString()
		return toolapi.ToolResult{Status: "ok", Solver: "echo_json", Summary: "echoed", Output: structured.String(s), ExitCode: 0}
	}
	eng := newTestEngine(t, invoker)
	man := newTestManifold(t)

	manifest, err := man.CreateFromUpload(context.Background(), "cube.obj", []byte("v 0 0 0\n"))
	require.NoError(t, err)

	source := staticSource{plan: planner.Plan{
		Ack: "Working on it.",
		ToolCalls: []planner.ToolCall{
			{
				ToolName:           "echo_json",
				StageName:          "echo",
				Input:              structured.NewObject().Set("message", structured.String("hello")).Build(),
				ExpectedAssetPaths: []string{"logs/echo.json"},
			},
		},
	}}

	o := New(man, eng)
	events := drain(o.Run(context.Background(), manifest.SessionID, "echo hello", source))

	require.NotEmpty(t, events)
	require.Equal(t, EventTextDelta, events[0].Type)
	require.Equal(t, "Working on it.", events[0].Delta)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []EventType{
		EventTextDelta,
		EventToolCallStart,
		EventStateUpdate,
		EventToolCallComplete,
		EventAgentDone,
	}, types)

	final, err := man.Get(context.Background(), manifest.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, final.Status)
	require.Contains(t, final.Assets, "logs/echo.json")
}

func TestRunToolFailureEmitsErrorNotDone(t *testing.T) {
	invoker := func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		return toolapi.ToolResult{Status: "error", Solver: "echo_json", Summary: "boom", ExitCode: 1}.WithErrorCode("solver_failed")
	}
	eng := newTestEngine(t, invoker)
	man := newTestManifold(t)

	manifest, err := man.CreateFromUpload(context.Background(), "cube.obj", []byte("v 0 0 0\n"))
	require.NoError(t, err)

	source := staticSource{plan: planner.Plan{
		ToolCalls: []planner.ToolCall{
			{ToolName: "echo_json", Input: structured.NewObject().Set("message", structured.String("hello")).Build()},
		},
	}}

	o := New(man, eng)
	events := drain(o.Run(context.Background(), manifest.SessionID, "echo hello", source))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	require.Equal(t, "solver_failed", last.Code)

	for _, ev := range events {
		require.NotEqual(t, EventAgentDone, ev.Type)
	}
}

func TestRunPlanErrorEmitsError(t *testing.T) {
	eng := newTestEngine(t, func(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
		return toolapi.ToolResult{Status: "ok"}
	})
	man := newTestManifold(t)
	manifest, err := man.CreateFromUpload(context.Background(), "cube.obj", []byte("v 0 0 0\n"))
	require.NoError(t, err)

	source := staticSource{err: require.AnError}
	o := New(man, eng)
	events := drain(o.Run(context.Background(), manifest.SessionID, "echo hello", source))

	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Type)
}
