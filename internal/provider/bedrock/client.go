// Package bedrock adapts the AWS Bedrock Converse API to the
// provider.Client contract. Grounded on features/model/bedrock/client.go's
// request-building pipeline (system/conversation split, tool configuration,
// Converse/ConverseStream dispatch), simplified to this module's
// provider.Request/Response shape — the teacher's ledger rehydration and
// per-model cache-checkpoint quirks are run-store/Temporal concerns that
// have no analogue in this module's stateless adapter.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/provider/ratelimit"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client used by the
// adapter, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter's model selection and thinking defaults.
type Options struct {
	DefaultModel   string
	HighModel      string
	SmallModel     string
	MaxTokens      int
	Temperature    float32
	ThinkingBudget int
}

// Client implements provider.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	opts    Options
}

// New builds a Client from an explicit Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	if opts.ThinkingBudget <= 0 {
		opts.ThinkingBudget = 16384
	}
	return &Client{runtime: runtime, opts: opts}, nil
}

// Factory adapts New to provider.Factory, building a bedrockruntime.Client
// with only its Region set, from config["region"]. No shared AWS config or
// default credential chain is loaded.
func Factory(config map[string]any) (provider.Client, error) {
	region, _ := config["region"].(string)
	defaultModel, _ := config["default_model"].(string)
	cli := bedrockruntime.New(bedrockruntime.Options{Region: region})
	c, err := New(cli, Options{DefaultModel: defaultModel})
	if err != nil {
		return nil, err
	}
	return ratelimit.WrapFromConfig(config, c), nil
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	toolNames  map[string]string // provider name -> canonical name
}

// Complete issues a Converse request.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return provider.Response{}, wrapError("complete", err)
	}
	return translateResponse(out, parts.toolNames), nil
}

// Stream issues a ConverseStream request and wraps the event stream.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	if req.Thinking != nil && req.Thinking.Enable && parts.toolConfig != nil {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = c.opts.ThinkingBudget
		}
		fields := map[string]any{"thinking": map[string]any{"type": "enabled", "budget_tokens": budget}}
		input.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapError("stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return &streamer{events: stream.Events(), stream: stream}, nil
}

func (c *Client) prepareRequest(req provider.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := c.resolveModel(req)
	toolConfig, toolNames, err := encodeTools(req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	return &requestParts{modelID: modelID, messages: messages, system: system, toolConfig: toolConfig, toolNames: toolNames}, nil
}

func (c *Client) resolveModel(req provider.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case provider.ModelClassHighReasoning:
		if c.opts.HighModel != "" {
			return c.opts.HighModel
		}
	case provider.ModelClassSmall:
		if c.opts.SmallModel != "" {
			return c.opts.SmallModel
		}
	}
	return c.opts.DefaultModel
}

func (c *Client) inferenceConfig(req provider.Request) *brtypes.InferenceConfiguration {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.opts.Temperature
	}
	if maxTokens <= 0 && temp <= 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		v := int32(maxTokens)
		cfg.MaxTokens = &v
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	return cfg
}

func encodeMessages(msgs []provider.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(provider.TextPart); ok && tp.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: tp.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case provider.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case provider.ToolUsePart:
				doc := document.NewLazyDocument(v.Input)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{ToolUseId: aws.String(v.ID), Name: aws.String(v.Name), Input: doc},
				})
			case provider.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case provider.RoleUser:
			role = brtypes.ConversationRoleUser
		case provider.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeToolResult(v provider.ToolResultPart) brtypes.ContentBlock {
	var content []brtypes.ToolResultContentBlock
	switch c := v.Content.(type) {
	case nil:
		content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: ""}}
	case string:
		content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: c}}
	default:
		data, err := json.Marshal(c)
		text := ""
		if err == nil {
			text = string(data)
		}
		content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: text}}
	}
	status := brtypes.ToolResultStatusSuccess
	if v.IsError {
		status = brtypes.ToolResultStatusError
	}
	return &brtypes.ContentBlockMemberToolResult{
		Value: brtypes.ToolResultBlock{ToolUseId: aws.String(v.ToolUseID), Content: content, Status: status},
	}
}

func encodeTools(defs []provider.ToolDefinition, choice *provider.ToolChoice) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var schema map[string]any
		if def.InputSchema != nil {
			data, err := json.Marshal(def.InputSchema)
			if err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
			if err := json.Unmarshal(data, &schema); err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema is not an object: %w", def.Name, err)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
		names[def.Name] = def.Name
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	if choice != nil {
		switch choice.Mode {
		case provider.ToolChoiceModeAny:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
		case provider.ToolChoiceModeTool:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(choice.Name)}}
		}
	}
	return cfg, names, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput, toolNames map[string]string) provider.Response {
	resp := provider.Response{}
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Content = append(resp.Content, provider.Message{
					Role:  provider.RoleAssistant,
					Parts: []provider.Part{provider.TextPart{Text: b.Value}},
				})
			case *brtypes.ContentBlockMemberToolUse:
				name := aws.ToString(b.Value.Name)
				if canonical, ok := toolNames[name]; ok {
					name = canonical
				}
				resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
					ID:      aws.ToString(b.Value.ToolUseId),
					Name:    name,
					Payload: b.Value.Input,
				})
			}
		}
	}
	if out.Usage != nil {
		resp.Usage = provider.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	resp.StopReason = string(out.StopReason)
	return resp
}

func wrapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return provider.NewError("bedrock", op, 0, classifyCode(code), code, apiErr.ErrorMessage(), "", code == "ThrottlingException" || code == "ServiceUnavailableException", err)
	}
	return provider.NewError("bedrock", op, 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}

func classifyCode(code string) provider.ErrorKind {
	switch code {
	case "AccessDeniedException", "UnauthorizedException":
		return provider.ErrorKindAuth
	case "ValidationException":
		return provider.ErrorKindInvalidRequest
	case "ThrottlingException":
		return provider.ErrorKindRateLimited
	case "ServiceUnavailableException", "InternalServerException":
		return provider.ErrorKindUnavailable
	default:
		return provider.ErrorKindUnknown
	}
}
