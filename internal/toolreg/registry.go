// Package toolreg implements the ToolRegistry: an insertion-time-built
// mapping from tool name to tool descriptor, frozen after Build. It is
// grounded on a sync.RWMutex-protected map with Register/Get, generalized
// to a full descriptor shape (version, stability, tags, examples, compiled
// schema).
package toolreg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

// Stability classifies a tool's maturity.
type Stability string

const (
	Stable       Stability = "stable"
	Experimental Stability = "experimental"
	Deprecated   Stability = "deprecated"
)

// Example is one documented call of a tool.
type Example struct {
	Title string
	Input structured.Value
	Notes string
}

// Descriptor fully describes a registered tool. It is immutable once built.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	InputSchema structured.Value
	Stability   Stability
	Tags        []string
	Examples    []Example
	Invoker     toolapi.Invoker

	compiled *jsonschema.Schema
}

// CompiledSchema returns the schema compiled at registration time, reused
// for every invocation's stage-2 validation.
func (d *Descriptor) CompiledSchema() *jsonschema.Schema { return d.compiled }

// Filter narrows a List call.
type Filter struct {
	Stability Stability // empty = no filter
	Tags      []string  // any-tag-match; empty = no filter
}

func (f Filter) matches(d *Descriptor) bool {
	if f.Stability != "" && d.Stability != f.Stability {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, want := range f.Tags {
		for _, have := range d.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// ErrDuplicateTool is returned by Register when name collides.
type ErrDuplicateTool struct{ Name string }

func (e *ErrDuplicateTool) Error() string { return fmt.Sprintf("duplicate_tool: %s", e.Name) }

// Registry is the built, frozen tool registry. Construct via NewBuilder,
// register every descriptor, then Build; the result never mutates again.
type Registry struct {
	tools map[string]*Descriptor
	names []string // sorted
}

// Builder accumulates descriptors before Build freezes them into a Registry.
// Tests substitute a Builder with mock tools rather than reaching for any
// ambient global registry.
type Builder struct {
	mu    sync.Mutex
	tools map[string]*Descriptor
}

// NewBuilder starts an empty registry under construction.
func NewBuilder() *Builder {
	return &Builder{tools: make(map[string]*Descriptor)}
}

// Register validates and adds a descriptor. It fails with ErrDuplicateTool
// if name collides, or with a validation error per the descriptor field rules.
func (b *Builder) Register(d Descriptor) error {
	if err := validateDescriptor(&d); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tools[d.Name]; exists {
		return &ErrDuplicateTool{Name: d.Name}
	}
	cp := d
	b.tools[cp.Name] = &cp
	return nil
}

// Build compiles every descriptor's input schema, validates each stable
// tool's examples against it, and freezes the result. No runtime mutation
// is possible after Build returns; every /v1/tools response derives from
// the same frozen, sorted-by-name snapshot.
func (b *Builder) Build() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	compiler := jsonschema.NewCompiler()
	names := make([]string, 0, len(b.tools))
	for name, d := range b.tools {
		schemaURL := "mem://" + name + "/input_schema.json"
		schemaBytes, err := json.Marshal(d.InputSchema.ToAny())
		if err != nil {
			return nil, fmt.Errorf("toolreg: marshal schema for %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaBytes)); err != nil {
			return nil, fmt.Errorf("toolreg: compile schema for %s: %w", name, err)
		}
		compiled, err := compiler.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("toolreg: compile schema for %s: %w", name, err)
		}
		d.compiled = compiled

		if d.Stability == Stable {
			for _, ex := range d.Examples {
				if err := compiled.Validate(ex.Input.ToAny()); err != nil {
					return nil, fmt.Errorf("toolreg: stable tool %s example %q fails its own schema: %w", name, ex.Title, err)
				}
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{tools: b.tools, names: names}, nil
}

// Lookup returns a descriptor by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// List returns descriptors matching filter, ordered lexicographically by
// name.
func (r *Registry) List(filter Filter) []*Descriptor {
	out := make([]*Descriptor, 0, len(r.names))
	for _, name := range r.names {
		d := r.tools[name]
		if filter.matches(d) {
			out = append(out, d)
		}
	}
	return out
}

func validateDescriptor(d *Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("toolreg: name is required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("toolreg: %s: version is required", d.Name)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("toolreg: %s: description is required", d.Name)
	}
	if d.Invoker == nil {
		return fmt.Errorf("toolreg: %s: invoker is required", d.Name)
	}
	switch d.Stability {
	case Stable, Experimental, Deprecated:
	default:
		return fmt.Errorf("toolreg: %s: stability must be stable, experimental, or deprecated", d.Name)
	}

	typ, ok := d.InputSchema.Get("type")
	if !ok {
		return fmt.Errorf("toolreg: %s: input_schema.type is required", d.Name)
	}
	typStr, _ := typ.AsString()
	if typStr != "object" {
		return fmt.Errorf("toolreg: %s: input_schema.type must be \"object\"", d.Name)
	}
	if props, ok := d.InputSchema.Get("properties"); !ok || props.Kind() != structured.KindObject {
		return fmt.Errorf("toolreg: %s: input_schema.properties must be an object", d.Name)
	}
	if req, ok := d.InputSchema.Get("required"); !ok || req.Kind() != structured.KindArray {
		return fmt.Errorf("toolreg: %s: input_schema.required must be an array", d.Name)
	}
	if _, ok := d.InputSchema.Get("additionalProperties"); !ok {
		return fmt.Errorf("toolreg: %s: input_schema.additionalProperties must be explicit", d.Name)
	}

	if d.Stability == Stable && len(d.Examples) == 0 {
		return fmt.Errorf("toolreg: %s: stable tools require at least one example", d.Name)
	}
	return nil
}
