package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/autosage/autosage/internal/toolreg"
)

// BedrockPlanSource drives one planning call through AWS Bedrock's Converse
// API, adapted from providers/bedrock.go's ConverseStream client into a
// single non-streaming Converse call.
type BedrockPlanSource struct {
	client   *bedrockruntime.Client
	registry *toolreg.Registry
	model    string
	system   string
}

// BedrockConfig configures a BedrockPlanSource.
type BedrockConfig struct {
	Region string
	Model  string
	System string
}

// NewBedrockPlanSource builds a plan source backed by AWS Bedrock, loading
// credentials from the default provider chain.
func NewBedrockPlanSource(ctx context.Context, cfg BedrockConfig, registry *toolreg.Registry) (*BedrockPlanSource, error) {
	if registry == nil {
		return nil, fmt.Errorf("planner: registry is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("planner: load aws config: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}
	return &BedrockPlanSource{
		client:   bedrockruntime.NewFromConfig(awsCfg),
		registry: registry,
		model:    model,
		system:   cfg.System,
	}, nil
}

func (s *BedrockPlanSource) toolConfig() *types.ToolConfiguration {
	descs := s.registry.List(toolreg.Filter{})
	if len(descs) == 0 {
		return nil
	}
	tools := make([]types.Tool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(d.InputSchema.ToAny())},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

// Plan sends the prompt plus history through Converse and translates the
// returned message's content blocks into a Plan.
func (s *BedrockPlanSource) Plan(ctx context.Context, sessionID string, history []HistoryMessage, prompt string) (Plan, error) {
	messages := make([]types.Message, 0, len(history)+1)
	for _, h := range history {
		role := types.ConversationRoleUser
		if h.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: h.Content}},
		})
	}
	messages = append(messages, types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
	})

	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(s.model),
		Messages:   messages,
		ToolConfig: s.toolConfig(),
	}
	if s.system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: s.system}}
	}

	out, err := s.client.Converse(ctx, input)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: bedrock converse: %w", err)
	}

	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Plan{}, fmt.Errorf("planner: bedrock returned no message output")
	}

	var plan Plan
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			plan.Ack += v.Value
		case *types.ContentBlockMemberToolUse:
			var decoded any
			if err := v.Value.Input.UnmarshalSmithyDocument(&decoded); err != nil {
				return Plan{}, fmt.Errorf("planner: decode tool_use input for %s: %w", aws.ToString(v.Value.Name), err)
			}
			raw, err := json.Marshal(decoded)
			if err != nil {
				return Plan{}, fmt.Errorf("planner: encode tool_use input for %s: %w", aws.ToString(v.Value.Name), err)
			}
			toolInput, err := jsonToStructured(raw)
			if err != nil {
				return Plan{}, fmt.Errorf("planner: decode tool_use input for %s: %w", aws.ToString(v.Value.Name), err)
			}
			plan.ToolCalls = append(plan.ToolCalls, ToolCall{ToolName: aws.ToString(v.Value.Name), Input: toolInput})
		}
	}
	return plan, nil
}
