package structured

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		`null`,
		`true`,
		`false`,
		`1.5`,
		`"hello"`,
		`[1,2,3]`,
		`{"b":1,"a":2}`,
		`{"nested":{"x":[1,"two",null,true]}}`,
	}
	for _, raw := range cases {
		var v Value
		require.NoError(t, json.Unmarshal([]byte(raw), &v))
		out, err := json.Marshal(v)
		require.NoError(t, err)

		var v2 Value
		require.NoError(t, json.Unmarshal(out, &v2))
		require.True(t, Equal(v, v2), "round trip mismatch for %s -> %s", raw, out)
	}
}

func TestObjectKeyOrderPreserved(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":2,"m":3}`), &v))
	require.Equal(t, []string{"z", "a", "m"}, v.Keys())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"z":1,"a":2,"m":3}`, string(out))
	require.Equal(t, `{"z":1,"a":2,"m":3}`, string(out))
}

func TestEqual(t *testing.T) {
	a := NewObject().Set("x", Number(1)).Set("y", String("hi")).Build()
	b := NewObject().Set("x", Number(1)).Set("y", String("hi")).Build()
	c := NewObject().Set("x", Number(2)).Build()
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

func TestFromAnyToAny(t *testing.T) {
	in := map[string]any{"b": 2.0, "a": []any{1.0, "x", nil}}
	v := FromAny(in)
	require.Equal(t, []string{"a", "b"}, v.Keys())
	back := v.ToAny()
	m, ok := back.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 2.0, m["b"])
}
