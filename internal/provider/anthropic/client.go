// Package anthropic adapts the Anthropic Claude Messages API to the
// provider.Client contract. Grounded on features/model/anthropic/client.go
// from the teacher repo; re-targeted at this module's simpler Request/
// Response shape (internal/provider/provider.go) instead of the teacher's
// planner-coupled model package.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/provider/ratelimit"
)

// MessagesClient is the subset of the Anthropic SDK used by the adapter, so
// tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's default model selection and sampling.
type Options struct {
	DefaultModel   string
	HighModel      string
	SmallModel     string
	MaxTokens      int
	Temperature    float64
	ThinkingBudget int64
}

// Client implements provider.Client on top of Anthropic Claude Messages.
type Client struct {
	msg  MessagesClient
	opts Options
}

// New builds a Client from an explicit Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, opts: opts}, nil
}

// NewFromAPIKey builds a Client against the real Anthropic API, reading
// ANTHROPIC_API_KEY/ANTHROPIC_BASE_URL conventions via option.WithAPIKey.
func NewFromAPIKey(apiKey, baseURL, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	ac := sdk.NewClient(reqOpts...)
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Factory adapts New/NewFromAPIKey to provider.Factory for registration in
// provider.Registry.
func Factory(config map[string]any) (provider.Client, error) {
	apiKey, _ := config["api_key"].(string)
	baseURL, _ := config["base_url"].(string)
	defaultModel, _ := config["default_model"].(string)
	c, err := NewFromAPIKey(apiKey, baseURL, defaultModel)
	if err != nil {
		return nil, err
	}
	if hi, ok := config["high_model"].(string); ok {
		c.opts.HighModel = hi
	}
	if sm, ok := config["small_model"].(string); ok {
		c.opts.SmallModel = sm
	}
	if mt, ok := config["max_tokens"].(int); ok {
		c.opts.MaxTokens = mt
	}
	return ratelimit.WrapFromConfig(config, c), nil
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return provider.Response{}, wrapError("complete", err)
	}
	return translateMessage(msg, toolNames), nil
}

// Stream issues Messages.NewStreaming and wraps the SSE stream so callers
// consume provider.Chunk values through a provider.Streamer.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("stream", err)
	}
	return &streamer{stream: stream, toolNames: toolNames}, nil
}

func (c *Client) prepareRequest(req provider.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModel(req)
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	tools, toolNames, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	temp := float64(req.Temperature)
	if temp <= 0 {
		temp = c.opts.Temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.Thinking != nil && req.Thinking.Enable {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = int(c.opts.ThinkingBudget)
		}
		if budget < 1024 {
			return nil, nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	return &params, toolNames, nil
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

func encodeMessages(msgs []provider.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conv := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0)
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(provider.TextPart); ok && tp.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: tp.Text})
				}
			}
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case provider.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case provider.ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case provider.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case provider.RoleUser:
			conv = append(conv, sdk.NewUserMessage(blocks...))
		case provider.RoleAssistant:
			conv = append(conv, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(conv) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conv, system, nil
}

func encodeToolResult(v provider.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []provider.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schema, err := toolSchema(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
		names[def.Name] = def.Name
	}
	return out, names, nil
}

func toolSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice provider.ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", provider.ToolChoiceModeAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case provider.ToolChoiceModeNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case provider.ToolChoiceModeAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case provider.ToolChoiceModeTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice requires a name")
		}
		return sdk.ToolChoiceParamOfTool(choice.Name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateMessage(msg *sdk.Message, toolNames map[string]string) provider.Response {
	resp := provider.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Content = append(resp.Content, provider.Message{
					Role:  provider.RoleAssistant,
					Parts: []provider.Part{provider.TextPart{Text: block.Text}},
				})
			}
		case "tool_use":
			name := block.Name
			if canonical, ok := toolNames[name]; ok {
				name = canonical
			}
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:      block.ID,
				Name:    name,
				Payload: block.Input,
			})
		}
	}
	u := msg.Usage
	resp.Usage = provider.TokenUsage{
		InputTokens:      int(u.InputTokens),
		OutputTokens:     int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp
}

func wrapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		return provider.NewError("anthropic", op, status, classifyStatus(status), "", apiErr.Error(), "", provider.RetryableFromHTTPStatus(status), err)
	}
	return provider.NewError("anthropic", op, 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}

func classifyStatus(status int) provider.ErrorKind {
	switch {
	case status == 401 || status == 403:
		return provider.ErrorKindAuth
	case status == 400 || status == 422:
		return provider.ErrorKindInvalidRequest
	case status == 429:
		return provider.ErrorKindRateLimited
	case status >= 500:
		return provider.ErrorKindUnavailable
	default:
		return provider.ErrorKindUnknown
	}
}
