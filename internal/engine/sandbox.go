package engine

import (
	"context"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

// Sandbox is the stage-5 dispatch abstraction: something that can run an
// invoker against (input, context) and produce a ToolResult. Polymorphic
// tool dispatch is over this single narrow interface, not a class hierarchy
// (see DESIGN.md Open Question notes).
type Sandbox interface {
	Run(ctx context.Context, invoker toolapi.Invoker, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult
}

// DirectSandbox calls the invoker directly in the worker goroutine, with no
// additional isolation. It is the engine's default sandbox; the engine
// applies its one configured sandbox to every tool.
type DirectSandbox struct{}

func (DirectSandbox) Run(ctx context.Context, invoker toolapi.Invoker, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	return invoker(ctx, ec, input)
}
