package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolreg"
)

// AnthropicPlanSource drives one planning call through the Anthropic
// Messages API, offering every registered tool as a callable so the model
// can emit tool_use blocks that become planned ToolCalls. Adapted from the
// streaming providers/anthropic.go client into a single non-streaming
// Messages.New call — the orchestrator only needs one ack plus the planned
// calls, not token-by-token delivery.
type AnthropicPlanSource struct {
	client   anthropic.Client
	registry *toolreg.Registry
	model    string
	system   string
}

// AnthropicConfig configures an AnthropicPlanSource.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	System  string
}

// NewAnthropicPlanSource builds a plan source backed by the Anthropic API.
func NewAnthropicPlanSource(cfg AnthropicConfig, registry *toolreg.Registry) (*AnthropicPlanSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner: anthropic api key is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("planner: registry is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicPlanSource{
		client:   anthropic.NewClient(opts...),
		registry: registry,
		model:    model,
		system:   cfg.System,
	}, nil
}

func (s *AnthropicPlanSource) tools() []anthropic.ToolUnionParam {
	descs := s.registry.List(toolreg.Filter{})
	tools := make([]anthropic.ToolUnionParam, 0, len(descs))
	for _, d := range descs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: d.InputSchema.ToAny(),
		}
		param := anthropic.ToolUnionParamOfTool(schema, d.Name)
		tools = append(tools, param)
	}
	return tools
}

// Plan sends the prompt (with history as prior turns) to Claude and
// converts the response into a Plan: any text blocks are joined into the
// acknowledgement, any tool_use blocks become ToolCalls in response order.
func (s *AnthropicPlanSource) Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, h := range history {
		text := anthropic.NewTextBlock(h.Content)
		if h.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(text))
		} else {
			messages = append(messages, anthropic.NewUserMessage(text))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		Messages:  messages,
		MaxTokens: 4096,
		Tools:     s.tools(),
	}
	if s.system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: s.system}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: anthropic request: %w", err)
	}

	var plan Plan
	var ack strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			ack.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			input, err := jsonToStructured(toolUse.Input)
			if err != nil {
				return Plan{}, fmt.Errorf("planner: decode tool_use input for %s: %w", toolUse.Name, err)
			}
			plan.ToolCalls = append(plan.ToolCalls, ToolCall{
				ToolName: toolUse.Name,
				Input:    input,
			})
		}
	}
	plan.Ack = ack.String()
	return plan, nil
}

// jsonToStructured decodes a raw JSON tool-use input payload into a
// structured.Value, preserving object key order via Value's own decoder.
func jsonToStructured(raw json.RawMessage) (structured.Value, error) {
	var v structured.Value
	if len(raw) == 0 {
		return structured.Null(), nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return structured.Value{}, err
	}
	return v, nil
}
