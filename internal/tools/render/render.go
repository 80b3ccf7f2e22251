// Package render implements render_pack_vtk: rasterizing an isometric view
// of a fitted primitive pack into an image artifact. It drives a headless
// Chrome context via chromedp to render a small 2D-canvas scene built
// from the primitives JSON dsl_fit_open3d produced, then optionally
// re-encodes the captured frame as TIFF.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/image/tiff"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

// Input is render_pack_vtk's request shape.
type Input struct {
	PrimitivesPath string `json:"primitives_path" jsonschema:"required"`
	OutputPath     string `json:"output_path" jsonschema:"required"`
	Format         string `json:"format,omitempty" jsonschema:"enum=png,enum=tiff"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

const (
	defaultWidth  = 640
	defaultHeight = 480
)

// Descriptor builds the render_pack_vtk tool registration.
func Descriptor() (toolreg.Descriptor, error) {
	schema, err := toolreg.SchemaFromStruct(Input{})
	if err != nil {
		return toolreg.Descriptor{}, fmt.Errorf("render: build schema: %w", err)
	}
	example := structured.NewObject().
		Set("primitives_path", structured.String("/tmp/example/geometry/primitives.json")).
		Set("output_path", structured.String("/tmp/example/render/isometric_color.png")).
		Set("format", structured.String("png")).
		Build()
	return toolreg.Descriptor{
		Name:        "render_pack_vtk",
		Version:     "1.0.0",
		Description: "Renders an isometric view of a fitted primitive pack to a raster image.",
		InputSchema: schema,
		Stability:   toolreg.Stable,
		Tags:        []string{"geometry", "render"},
		Examples: []toolreg.Example{
			{Title: "render cube fit", Input: example},
		},
		Invoker: invoke,
	}, nil
}

type primitiveDoc struct {
	Primitives []map[string]any `json:"primitives"`
}

func invoke(ctx context.Context, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	primitivesPathStr := getString(input, "primitives_path")
	outputPathStr := getString(input, "output_path")

	format := "png"
	if v, ok := input.Get("format"); ok {
		if s, ok := v.AsString(); ok && s != "" {
			format = s
		}
	}
	width, height := defaultWidth, defaultHeight
	if v, ok := input.Get("width"); ok {
		if n, ok := v.AsNumber(); ok && n > 0 {
			width = int(n)
		}
	}
	if v, ok := input.Get("height"); ok {
		if n, ok := v.AsNumber(); ok && n > 0 {
			height = int(n)
		}
	}

	var doc primitiveDoc
	if primitivesPathStr != "" {
		data, err := os.ReadFile(primitivesPathStr)
		if err == nil {
			_ = json.Unmarshal(data, &doc)
		}
	}

	pngBytes, err := renderIsometric(ctx, doc, width, height)
	if err != nil {
		return fail(fmt.Sprintf("headless render failed: %v", err))
	}

	out := pngBytes
	if format == "tiff" {
		out, err = pngToTIFF(pngBytes)
		if err != nil {
			return fail(fmt.Sprintf("tiff encode failed: %v", err))
		}
	}

	if err := os.WriteFile(outputPathStr, out, 0o644); err != nil {
		return fail(fmt.Sprintf("writing render output: %v", err))
	}

	return toolapi.ToolResult{
		Status:   "ok",
		Solver:   "render_pack_vtk",
		Summary:  fmt.Sprintf("Rendered isometric view of %d primitive(s).", len(doc.Primitives)),
		ExitCode: 0,
		Metrics:  map[string]structured.Value{},
		Artifacts: []toolapi.Artifact{
			{Name: baseName(outputPathStr), Path: outputPathStr},
		},
	}
}

// renderIsometric launches a headless Chrome context, injects a canvas
// drawing the primitive pack from an isometric angle, and captures a
// screenshot. Any failure to allocate the headless context itself (no
// Chrome binary, no /dev/shm, sandbox denial) is reported as the domain
// ERR_HEADLESS_CONTEXT_FAILED code rather than a generic runtime error.
func renderIsometric(ctx context.Context, doc primitiveDoc, width, height int) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(width, height),
	)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelTimeout := context.WithTimeout(browserCtx, 15*time.Second)
	defer cancelTimeout()

	scene, err := json.Marshal(doc.Primitives)
	if err != nil {
		return nil, err
	}

	var buf []byte
	script := fmt.Sprintf(isometricSceneJS, width, height, string(scene))
	err = chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(script, nil),
		chromedp.Sleep(100*time.Millisecond),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("ERR_HEADLESS_CONTEXT_FAILED: %w", err)
	}
	return buf, nil
}

// isometricSceneJS builds a canvas, isometrically projects each primitive's
// bounding geometry, and fills it with a flat color per primitive type.
const isometricSceneJS = `
(function() {
  var canvas = document.createElement('canvas');
  canvas.width = %d;
  canvas.height = %d;
  document.body.appendChild(canvas);
  var ctx = canvas.getContext('2d');
  ctx.fillStyle = '#101418';
  ctx.fillRect(0, 0, canvas.width, canvas.height);
  var cx = canvas.width / 2, cy = canvas.height / 2;
  function project(p) {
    var x = p[0] - p[2];
    var y = (p[0] + 2 * p[1] + p[2]) / 2;
    return [cx + x * 40, cy - y * 40];
  }
  var primitives = %s;
  var colors = { box: '#4f9dde', sphere: '#de8a4f' };
  primitives.forEach(function(p) {
    ctx.fillStyle = colors[p.type] || '#999999';
    if (p.type === 'box' && p.min && p.max) {
      var c = project([(p.min[0]+p.max[0])/2, (p.min[1]+p.max[1])/2, (p.min[2]+p.max[2])/2]);
      ctx.fillRect(c[0]-20, c[1]-20, 40, 40);
    } else if (p.type === 'sphere' && p.center) {
      var c2 = project(p.center);
      ctx.beginPath();
      ctx.arc(c2[0], c2[1], Math.max(4, (p.radius||1) * 20), 0, Math.PI * 2);
      ctx.fill();
    }
  });
})();
`

func pngToTIFF(pngBytes []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func getString(input structured.Value, key string) string {
	v, ok := input.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func fail(message string) toolapi.ToolResult {
	return toolapi.ToolResult{
		Status: "error", Solver: "render_pack_vtk", ExitCode: 1,
		Summary: message, Stderr: message,
	}.WithErrorCode("ERR_HEADLESS_CONTEXT_FAILED")
}
