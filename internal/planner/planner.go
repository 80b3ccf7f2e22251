// Package planner implements the abstract plan-source collaborator the
// StreamingOrchestrator consumes: given a session's prompt (and its prior
// message history), a plan source returns a short acknowledgement and zero
// or more planned tool calls to execute in order. Each backend is grounded
// on its corresponding provider in an agent/providers package (one file per
// backend: Anthropic, OpenAI, Bedrock, Gemini), adapted from a streaming
// chat-completion client into a single synchronous planning call. The
// orchestrator only needs one ack text delta per prompt cycle, not
// token-by-token delivery, so every backend here calls its SDK's
// non-streaming completion entrypoint and parses the result into a Plan.
package planner

import (
	"context"

	"github.com/autosage/autosage/internal/structured"
)

// ToolCall is one planned invocation: the tool to run, the manifest stage it
// belongs to, and the asset paths the orchestrator appends to the session
// manifest when the call succeeds (the engine's own artifact list is not
// consulted).
type ToolCall struct {
	ToolName           string
	StageName          string
	ExpectedAssetPaths []string
	Input              structured.Value
}

// Plan is one plan source response to one prompt cycle.
type Plan struct {
	Ack       string
	ToolCalls []ToolCall
}

// HistoryMessage is the minimal shape a plan source needs from a session's
// prior messages; internal/session.Message satisfies it structurally via
// the adapter the orchestrator builds.
type HistoryMessage struct {
	Role    string
	Content string
}

// Source is the abstract collaborator the StreamingOrchestrator drives.
// Implementations must not block past ctx's deadline.
type Source interface {
	Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error)
}
