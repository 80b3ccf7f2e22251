package toolreg

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/autosage/autosage/internal/structured"
)

// SchemaFromStruct derives a tool's input_schema from a Go struct with JSON
// tags, so a built-in tool author writes a typed request struct instead of a
// hand-rolled schema document. The result always carries an explicit
// "additionalProperties": false, matching the documented schema requirement.
func SchemaFromStruct(v any) (structured.Value, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(v)
	schema.Version = "" // input_schema carries no top-level $schema key

	data, err := json.Marshal(schema)
	if err != nil {
		return structured.Value{}, fmt.Errorf("toolreg: reflect schema: %w", err)
	}
	var out structured.Value
	if err := json.Unmarshal(data, &out); err != nil {
		return structured.Value{}, fmt.Errorf("toolreg: decode reflected schema: %w", err)
	}

	required, hasRequired := out.Get("required")
	if !hasRequired || required.Kind() != structured.KindArray {
		ob := structured.NewObject()
		for _, k := range out.Keys() {
			if k == "required" {
				continue
			}
			val, _ := out.Get(k)
			ob.Set(k, val)
		}
		ob.Set("required", structured.Array())
		out = ob.Build()
	}
	return out, nil
}
