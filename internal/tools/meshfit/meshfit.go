// Package meshfit implements dsl_fit_open3d: primitive fitting over a point
// cloud extracted from an uploaded mesh. No available geometry library
// covers Wavefront OBJ parsing or primitive fitting, so this is a
// deterministic, hand-rolled, pure-Go mesh analyzer: it parses a minimal OBJ,
// checks manifoldness by edge-adjacency counting, and fits an axis-aligned
// bounding box and an enclosing sphere to the vertex buffer.
package meshfit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

// Input is dsl_fit_open3d's request shape. MeshPath and OutputPath are
// absolute paths resolved by the caller (the orchestrator or a direct
// /v1/tools/execute caller) against a session workspace or arbitrary
// location; the tool itself has no notion of a session.
type Input struct {
	MeshPath      string  `json:"mesh_path" jsonschema:"required"`
	OutputPath    string  `json:"output_path" jsonschema:"required"`
	Dx            float64 `json:"dx" jsonschema:"required"`
	MaxHoleEdges  int     `json:"max_hole_edges,omitempty"`
}

const defaultMaxHoleEdges = 12

// Descriptor builds the dsl_fit_open3d tool registration.
func Descriptor() (toolreg.Descriptor, error) {
	schema, err := toolreg.SchemaFromStruct(Input{})
	if err != nil {
		return toolreg.Descriptor{}, fmt.Errorf("meshfit: build schema: %w", err)
	}
	example := structured.NewObject().
		Set("mesh_path", structured.String("/tmp/example/input/cube.obj")).
		Set("output_path", structured.String("/tmp/example/geometry/primitives.json")).
		Set("dx", structured.Number(0.01)).
		Build()
	return toolreg.Descriptor{
		Name:        "dsl_fit_open3d",
		Version:     "1.0.0",
		Description: "Fits bounding primitives to a mesh's vertex buffer, after a manifoldness check.",
		InputSchema: schema,
		Stability:   toolreg.Stable,
		Tags:        []string{"geometry", "solver"},
		Examples: []toolreg.Example{
			{Title: "fit cube", Input: example, Notes: "dx controls the point-cloud sampling resolution used downstream; it must be positive."},
		},
		Invoker: invoke,
	}, nil
}

type vec3 struct{ x, y, z float64 }

type mesh struct {
	vertices []vec3
	faces    [][]int // 0-based vertex indices
}

func invoke(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	meshPath, _ := getString(input, "mesh_path")
	outputPath, _ := getString(input, "output_path")
	dx := getNumber(input, "dx", 0)

	if dx <= 0 {
		return fail("ERR_INVALID_DX", "dx must be a positive number")
	}

	data, err := os.ReadFile(meshPath)
	if err != nil {
		return fail("ERR_BUFFER_EXTRACTION_FAILED", fmt.Sprintf("reading mesh file: %v", err))
	}

	m, err := parseOBJ(ctx, data)
	if err != nil {
		if err == context.DeadlineExceeded {
			return fail("ERR_PRIMITIVE_FIT_TIMEOUT", "mesh parsing exceeded its time budget")
		}
		return fail("ERR_BUFFER_EXTRACTION_FAILED", err.Error())
	}
	if len(m.vertices) == 0 {
		return fail("ERR_POINTCLOUD_GENERATION_FAILED", "mesh contains no vertices")
	}

	maxHoleEdges := defaultMaxHoleEdges
	if v, ok := input.Get("max_hole_edges"); ok {
		if n, ok := v.AsNumber(); ok && n > 0 {
			maxHoleEdges = int(n)
		}
	}

	boundary, nonManifold := edgeCensus(m)
	if nonManifold > 0 {
		return fail("ERR_NON_MANIFOLD_UNRESOLVABLE", fmt.Sprintf("%d edges are shared by more than two faces", nonManifold))
	}
	if boundary > maxHoleEdges {
		return fail("ERR_HOLE_TOO_LARGE", fmt.Sprintf("mesh has an open boundary of %d edges (limit %d)", boundary, maxHoleEdges))
	}

	box, sphere := fitPrimitives(m.vertices)
	primitives := structured.NewObject().
		Set("dx", structured.Number(dx)).
		Set("vertex_count", structured.Number(float64(len(m.vertices)))).
		Set("primitives", structured.Array(box, sphere)).
		Build()

	if err := writeJSON(outputPath, primitives); err != nil {
		return fail("ERR_BUFFER_EXTRACTION_FAILED", fmt.Sprintf("writing primitives: %v", err))
	}

	return toolapi.ToolResult{
		Status:   "ok",
		Solver:   "dsl_fit_open3d",
		Summary:  fmt.Sprintf("Fit 2 primitives to %d vertices.", len(m.vertices)),
		ExitCode: 0,
		Output:   primitives,
		Metrics:  map[string]structured.Value{},
		Artifacts: []toolapi.Artifact{
			{Name: "primitives.json", Path: outputPath},
		},
	}
}

// parseOBJ reads vertex ("v x y z") and face ("f a b c ...", with optional
// "/texture/normal" suffixes) records, checking ctx between lines so a
// pathologically large file can still be interrupted by its deadline.
func parseOBJ(ctx context.Context, data []byte) (mesh, error) {
	var m mesh
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return mesh{}, ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				continue
			}
			x, errX := strconv.ParseFloat(fields[1], 64)
			y, errY := strconv.ParseFloat(fields[2], 64)
			z, errZ := strconv.ParseFloat(fields[3], 64)
			if errX != nil || errY != nil || errZ != nil {
				return mesh{}, fmt.Errorf("meshfit: malformed vertex line %q", line)
			}
			m.vertices = append(m.vertices, vec3{x, y, z})
		case "f":
			face := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				idxStr := strings.SplitN(tok, "/", 2)[0]
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					return mesh{}, fmt.Errorf("meshfit: malformed face line %q", line)
				}
				if idx < 0 {
					idx = len(m.vertices) + idx + 1
				}
				face = append(face, idx-1)
			}
			if len(face) >= 3 {
				m.faces = append(m.faces, face)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return mesh{}, fmt.Errorf("meshfit: scan mesh: %w", err)
	}
	return m, nil
}

type edgeKey struct{ a, b int }

func makeEdge(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// edgeCensus counts undirected edge usage across every face: a manifold edge
// is shared by exactly two faces, a boundary edge by exactly one, and a
// non-manifold edge by three or more.
func edgeCensus(m mesh) (boundary, nonManifold int) {
	counts := make(map[edgeKey]int)
	for _, face := range m.faces {
		n := len(face)
		for i := 0; i < n; i++ {
			counts[makeEdge(face[i], face[(i+1)%n])]++
		}
	}
	for _, c := range counts {
		switch {
		case c == 1:
			boundary++
		case c > 2:
			nonManifold++
		}
	}
	return boundary, nonManifold
}

// fitPrimitives returns an axis-aligned bounding box and a bounding sphere
// centered at the vertex centroid, both as structured.Value records matching
// the shape persisted to primitives.json.
func fitPrimitives(vertices []vec3) (box, sphere structured.Value) {
	min, max := vertices[0], vertices[0]
	var sum vec3
	for _, v := range vertices {
		min = vec3{math.Min(min.x, v.x), math.Min(min.y, v.y), math.Min(min.z, v.z)}
		max = vec3{math.Max(max.x, v.x), math.Max(max.y, v.y), math.Max(max.z, v.z)}
		sum = vec3{sum.x + v.x, sum.y + v.y, sum.z + v.z}
	}
	n := float64(len(vertices))
	centroid := vec3{sum.x / n, sum.y / n, sum.z / n}

	var radius float64
	for _, v := range vertices {
		d := math.Sqrt(sq(v.x-centroid.x) + sq(v.y-centroid.y) + sq(v.z-centroid.z))
		if d > radius {
			radius = d
		}
	}

	box = structured.NewObject().
		Set("type", structured.String("box")).
		Set("min", vecValue(min)).
		Set("max", vecValue(max)).
		Build()
	sphere = structured.NewObject().
		Set("type", structured.String("sphere")).
		Set("center", vecValue(centroid)).
		Set("radius", structured.Number(radius)).
		Build()
	return box, sphere
}

func sq(v float64) float64 { return v * v }

func vecValue(v vec3) structured.Value {
	return structured.Array(structured.Number(v.x), structured.Number(v.y), structured.Number(v.z))
}

func getString(input structured.Value, key string) (string, bool) {
	v, ok := input.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func getNumber(input structured.Value, key string, fallback float64) float64 {
	v, ok := input.Get(key)
	if !ok {
		return fallback
	}
	n, ok := v.AsNumber()
	if !ok {
		return fallback
	}
	return n
}

func writeJSON(path string, v structured.Value) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fail(code, message string) toolapi.ToolResult {
	return toolapi.ToolResult{
		Status: "error", Solver: "dsl_fit_open3d", ExitCode: 1,
		Summary: message, Stderr: message,
	}.WithErrorCode(code)
}
