package toolreg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
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

func noopInvoker(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	return toolapi.ToolResult{Status: "ok", Solver: "echo_json"}
}

func TestRegisterLookupList(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Descriptor{
		Name: "echo_json", Version: "1.0.0", Description: "echo",
		InputSchema: echoSchema(), Stability: Stable, Tags: []string{"debug"},
		Examples: []Example{{Title: "basic", Input: structured.NewObject().Set("message", structured.String("hi")).Build()}},
		Invoker:  noopInvoker,
	}))
	require.NoError(t, b.Register(Descriptor{
		Name: "aaa_tool", Version: "0.1.0", Description: "first alphabetically",
		InputSchema: echoSchema(), Stability: Experimental, Invoker: noopInvoker,
	}))

	reg, err := b.Build()
	require.NoError(t, err)

	d, ok := reg.Lookup("echo_json")
	require.True(t, ok)
	require.Equal(t, "echo_json", d.Name)
	require.NotNil(t, d.CompiledSchema())

	_, ok = reg.Lookup("does.not.exist")
	require.False(t, ok)

	all := reg.List(Filter{})
	require.Len(t, all, 2)
	require.Equal(t, "aaa_tool", all[0].Name)
	require.Equal(t, "echo_json", all[1].Name)

	stable := reg.List(Filter{Stability: Stable})
	require.Len(t, stable, 1)
	require.Equal(t, "echo_json", stable[0].Name)

	tagged := reg.List(Filter{Tags: []string{"debug"}})
	require.Len(t, tagged, 1)
}

func TestDuplicateTool(t *testing.T) {
	b := NewBuilder()
	d := Descriptor{Name: "dup", Version: "1.0.0", Description: "x", InputSchema: echoSchema(), Stability: Experimental, Invoker: noopInvoker}
	require.NoError(t, b.Register(d))
	err := b.Register(d)
	require.Error(t, err)
	var dupErr *ErrDuplicateTool
	require.ErrorAs(t, err, &dupErr)
}

func TestStableRequiresExample(t *testing.T) {
	b := NewBuilder()
	err := b.Register(Descriptor{
		Name: "needs_example", Version: "1.0.0", Description: "x",
		InputSchema: echoSchema(), Stability: Stable, Invoker: noopInvoker,
	})
	require.Error(t, err)
}

func TestExampleMustValidateAgainstOwnSchema(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Descriptor{
		Name: "bad_example", Version: "1.0.0", Description: "x",
		InputSchema: echoSchema(), Stability: Stable, Invoker: noopInvoker,
		Examples: []Example{{Title: "missing required field", Input: structured.NewObject().Build()}},
	}))
	_, err := b.Build()
	require.Error(t, err)
}
