package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/autosage/autosage/internal/toolreg"
)

// GenAIPlanSource drives one planning call through Gemini's GenerateContent
// API, adapted from providers/google.go's streaming client into a single
// call and from toolconv's JSON-Schema-to-genai.Schema converter.
type GenAIPlanSource struct {
	client   *genai.Client
	registry *toolreg.Registry
	model    string
	system   string
}

// GenAIConfig configures a GenAIPlanSource.
type GenAIConfig struct {
	APIKey string
	Model  string
	System string
}

// NewGenAIPlanSource builds a plan source backed by the Gemini API.
func NewGenAIPlanSource(ctx context.Context, cfg GenAIConfig, registry *toolreg.Registry) (*GenAIPlanSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner: genai api key is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("planner: registry is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("planner: create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GenAIPlanSource{client: client, registry: registry, model: model, system: cfg.System}, nil
}

// toGeminiSchema converts a decoded JSON-Schema map into genai's Schema
// type, recursing through properties/items.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (s *GenAIPlanSource) tools() []*genai.Tool {
	descs := s.registry.List(toolreg.Filter{})
	if len(descs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		schemaMap, _ := d.InputSchema.ToAny().(map[string]any)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Plan sends the prompt plus history through GenerateContent and converts
// any function calls in the first candidate into planned ToolCalls.
func (s *GenAIPlanSource) Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, h := range history {
		role := genai.RoleUser
		if h.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: h.Content}}})
	}
	contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}})

	cfg := &genai.GenerateContentConfig{Tools: s.tools()}
	if s.system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s.system}}}
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: genai request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Plan{}, fmt.Errorf("planner: genai returned no candidates")
	}

	var plan Plan
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			plan.Ack += part.Text
		}
		if part.FunctionCall != nil {
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return Plan{}, fmt.Errorf("planner: encode function call args for %s: %w", part.FunctionCall.Name, err)
			}
			input, err := jsonToStructured(argsJSON)
			if err != nil {
				return Plan{}, fmt.Errorf("planner: decode function call args for %s: %w", part.FunctionCall.Name, err)
			}
			plan.ToolCalls = append(plan.ToolCalls, ToolCall{ToolName: part.FunctionCall.Name, Input: input})
		}
	}
	return plan, nil
}
