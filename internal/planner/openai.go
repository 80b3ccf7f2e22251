package planner

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/autosage/autosage/internal/toolreg"
)

// OpenAIPlanSource drives one planning call through the Chat Completions
// API with function calling, adapted from providers/openai.go's streaming
// client into a single non-streaming CreateChatCompletion call.
type OpenAIPlanSource struct {
	client   *openai.Client
	registry *toolreg.Registry
	model    string
	system   string
}

// OpenAIConfig configures an OpenAIPlanSource.
type OpenAIConfig struct {
	APIKey string
	Model  string
	System string
}

// NewOpenAIPlanSource builds a plan source backed by the OpenAI API.
func NewOpenAIPlanSource(cfg OpenAIConfig, registry *toolreg.Registry) (*OpenAIPlanSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner: openai api key is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("planner: registry is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIPlanSource{
		client:   openai.NewClient(cfg.APIKey),
		registry: registry,
		model:    model,
		system:   cfg.System,
	}, nil
}

func (s *OpenAIPlanSource) tools() []openai.Tool {
	descs := s.registry.List(toolreg.Filter{})
	tools := make([]openai.Tool, 0, len(descs))
	for _, d := range descs {
		var schemaMap map[string]any
		if m, ok := d.InputSchema.ToAny().(map[string]any); ok {
			schemaMap = m
		} else {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaMap,
			},
		})
	}
	return tools
}

// Plan sends the prompt plus history to the model and converts the
// response's tool_calls into planned ToolCalls, using the assistant's
// message content as the acknowledgement.
func (s *OpenAIPlanSource) Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if s.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s.system})
	}
	for _, h := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
		Tools:    s.tools(),
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planner: openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Plan{}, fmt.Errorf("planner: openai returned no choices")
	}

	choice := resp.Choices[0]
	plan := Plan{Ack: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		input, err := jsonToStructured(json.RawMessage(tc.Function.Arguments))
		if err != nil {
			return Plan{}, fmt.Errorf("planner: decode arguments for %s: %w", tc.Function.Name, err)
		}
		plan.ToolCalls = append(plan.ToolCalls, ToolCall{ToolName: tc.Function.Name, Input: input})
	}
	return plan, nil
}
