// Package orchestrator implements the StreamingOrchestrator: the component
// that drives one prompt cycle across a SessionManifold and an
// ExecutionEngine, emitting a strictly ordered sequence of StreamEvents. It
// is grounded on the same borrow-don't-own relationship the session package
// documents between a prompt cycle and the manifest it mutates.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/planner"
	"github.com/autosage/autosage/internal/session"
	"github.com/autosage/autosage/internal/structured"
)

// EventType discriminates a StreamEvent's variant. Names match the SSE event
// names emitted at the transport boundary exactly.
type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolCallStart    EventType = "tool_call_start"
	EventStateUpdate      EventType = "state_update"
	EventToolCallComplete EventType = "tool_call_complete"
	EventAgentDone        EventType = "agent_done"
	EventError            EventType = "error"
)

// StreamEvent is the tagged union of every event a prompt cycle can emit.
// Only the fields relevant to Type are populated.
type StreamEvent struct {
	Type       EventType
	Delta      string
	ToolName   string
	DurationMs int64
	State      *session.Manifest
	Status     string
	Code       string
	Message    string
}

// Orchestrator drives prompt cycles for sessions owned by a Manifold,
// executing planned tool calls through an Engine.
type Orchestrator struct {
	manifold *session.Manifold
	engine   *engine.Engine
}

// New binds a Manifold and Engine.
func New(manifold *session.Manifold, eng *engine.Engine) *Orchestrator {
	return &Orchestrator{manifold: manifold, engine: eng}
}

// Run starts one prompt cycle for sessionID against source, asynchronously,
// and returns the event stream. The returned channel is unbuffered: the
// caller must drain it promptly, since a slow consumer throttles dispatch of
// the next planned tool call by construction. The channel is always closed
// when the cycle ends, whether by normal completion, an in-band tool error,
// or ctx cancellation; no agent_done event follows an error event.
func (o *Orchestrator) Run(ctx context.Context, sessionID, prompt string, source planner.Source) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go o.run(ctx, sessionID, prompt, source, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, sessionID, prompt string, source planner.Source, events chan<- StreamEvent) {
	defer close(events)

	ctx, span := otel.Tracer("autosage/orchestrator").Start(ctx, "orchestrator.prompt_cycle", trace.WithAttributes(
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	if _, err := o.manifold.AppendUserPrompt(ctx, sessionID, prompt); err != nil {
		send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
		return
	}

	man, err := o.manifold.Get(ctx, sessionID)
	if err != nil {
		send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
		return
	}

	plan, err := source.Plan(ctx, sessionID, historyFromManifest(man), prompt)
	if err != nil {
		send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
		return
	}

	if !send(ctx, events, StreamEvent{Type: EventTextDelta, Delta: plan.Ack}) {
		o.markCancelled(sessionID)
		return
	}

	lastStage := "chat"
	for _, call := range plan.ToolCalls {
		if ctx.Err() != nil {
			o.markCancelled(sessionID)
			return
		}

		stage := call.StageName
		if stage == "" {
			stage = call.ToolName
		}
		lastStage = stage

		if _, err := o.manifold.ApplyTransition(ctx, sessionID, session.TransitionOptions{
			Status:      session.StatusProcessing,
			Stage:       stage,
			PlannedTool: call.ToolName,
		}); err != nil {
			send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
			return
		}

		if !send(ctx, events, StreamEvent{Type: EventToolCallStart, ToolName: call.ToolName}) {
			o.markCancelled(sessionID)
			return
		}

		start := time.Now()
		outcome := o.engine.Execute(ctx, engine.Request{
			ToolName:  call.ToolName,
			Input:     call.Input,
			RequestID: sessionID,
		})
		duration := time.Since(start)

		var newAssets []string
		if outcome.Result.Ok() {
			newAssets = call.ExpectedAssetPaths
		}

		updated, err := o.manifold.ApplyTransition(ctx, sessionID, session.TransitionOptions{
			Status:           session.StatusProcessing,
			Stage:            stage,
			ClearPlannedTool: true,
			AssistantMessage: "Executed " + call.ToolName + ".",
			AppendAssets:     newAssets,
		})
		if err != nil {
			send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
			return
		}

		if !send(ctx, events, StreamEvent{Type: EventStateUpdate, State: updated}) {
			o.markCancelled(sessionID)
			return
		}
		if !send(ctx, events, StreamEvent{Type: EventToolCallComplete, ToolName: call.ToolName, DurationMs: duration.Milliseconds()}) {
			o.markCancelled(sessionID)
			return
		}

		if !outcome.Result.Ok() {
			code := "runtime"
			if v, ok := outcome.Result.Metrics["error_code"]; ok {
				if s, ok := v.AsString(); ok && s != "" {
					code = s
				}
			}
			send(ctx, events, StreamEvent{Type: EventError, Code: code, Message: outcome.Result.Summary})
			return
		}
	}

	if _, err := o.manifold.ApplyTransition(ctx, sessionID, session.TransitionOptions{
		Status:           session.StatusCompleted,
		Stage:            lastStage,
		ClearPlannedTool: true,
		AssistantMessage: "Pipeline complete.",
	}); err != nil {
		send(ctx, events, StreamEvent{Type: EventError, Code: string(apierr.Runtime), Message: err.Error()})
		return
	}

	send(ctx, events, StreamEvent{Type: EventAgentDone, Status: "completed"})
}

// markCancelled records the client-closed cancellation outcome on the
// session manifest; its own error is swallowed since the stream has already
// ended and there is no event channel left to report it on.
func (o *Orchestrator) markCancelled(sessionID string) {
	_, _ = o.manifold.ApplyTransition(context.Background(), sessionID, session.TransitionOptions{
		Status:   session.StatusError,
		Metadata: map[string]structured.Value{"cancel_reason": structured.String("client_closed")},
	})
}

// send delivers ev unless ctx is cancelled first, reporting whether it was
// actually sent so callers can switch to the cancellation path.
func send(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func historyFromManifest(man *session.Manifest) []planner.HistoryMessage {
	if man == nil {
		return nil
	}
	out := make([]planner.HistoryMessage, 0, len(man.Messages))
	for _, m := range man.Messages {
		out = append(out, planner.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
