// Package echo implements the echo_json tool: a deterministic, pure-Go
// built-in used to exercise the execution pipeline (schema validation,
// admission, normalization) without any external dependency, and as the
// fixed point for the determinism boundary test.
package echo

import (
	"context"
	"fmt"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

// Input is echo_json's request shape, reflected into its input_schema via
// toolreg.SchemaFromStruct so the schema and the Go type can never drift.
type Input struct {
	Message string `json:"message" jsonschema:"required"`
	N       int    `json:"n,omitempty" jsonschema:"minimum=0"`
}

// Descriptor builds the echo_json tool registration. Build fails the whole
// registry if the schema reflection here ever stops round-tripping.
func Descriptor() (toolreg.Descriptor, error) {
	schema, err := toolreg.SchemaFromStruct(Input{})
	if err != nil {
		return toolreg.Descriptor{}, fmt.Errorf("echo: build schema: %w", err)
	}
	example := structured.NewObject().
		Set("message", structured.String("hello")).
		Set("n", structured.Number(2)).
		Build()
	return toolreg.Descriptor{
		Name:        "echo_json",
		Version:     "1.0.0",
		Description: "Echoes the given message back n times, for pipeline smoke tests.",
		InputSchema: schema,
		Stability:   toolreg.Stable,
		Tags:        []string{"builtin", "diagnostic"},
		Examples: []toolreg.Example{
			{Title: "repeat twice", Input: example, Notes: "n defaults to 1 when omitted."},
		},
		Invoker: invoke,
	}, nil
}

func invoke(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	msgVal, ok := input.Get("message")
	if !ok {
		return toolapi.ToolResult{Status: "error", Solver: "echo_json", ExitCode: 1, Summary: "message is required"}.
			WithErrorCode("invalid_input")
	}
	message, _ := msgVal.AsString()

	n := 1
	if nVal, ok := input.Get("n"); ok {
		if f, ok := nVal.AsNumber(); ok && f > 0 {
			n = int(f)
		}
	}

	repeated := make([]structured.Value, n)
	for i := range repeated {
		repeated[i] = structured.String(message)
	}

	output := structured.NewObject().
		Set("message", structured.String(message)).
		Set("repeat", structured.Array(repeated...)).
		Build()

	return toolapi.ToolResult{
		Status:   "ok",
		Solver:   "echo_json",
		Summary:  fmt.Sprintf("Echoed message %d time(s).", n),
		ExitCode: 0,
		Output:   output,
		Metrics:  map[string]structured.Value{},
	}
}
