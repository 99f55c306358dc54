// Package openai adapts the OpenAI Chat Completions API to the
// provider.Client contract, using the official github.com/openai/openai-go
// SDK. Grounded on features/model/openai/client.go's adapter shape
// (request/response translation, tool encoding), re-targeted at the
// official SDK client (the teacher used the unofficial sashabaranov/go-openai
// client; this module's go.mod carries the official SDK instead, wired from
// the rest of the example pack) and at provider.Request/Response.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/provider/ratelimit"
)

// ChatClient is the subset of the OpenAI SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
}

// Client implements provider.Client via OpenAI Chat Completions.
type Client struct {
	chat ChatClient
	opts Options
}

// New builds a Client from an explicit ChatClient, e.g. &openai.NewClient(...).Chat.Completions.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, opts: opts}, nil
}

// NewFromAPIKey builds a Client against the real OpenAI API.
func NewFromAPIKey(apiKey, baseURL, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return New(&cli.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Factory adapts New to provider.Factory for registration in
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
	return ratelimit.WrapFromConfig(config, c), nil
}

// Complete renders a Chat Completion.
func (c *Client) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return provider.Response{}, wrapError("complete", err)
	}
	return translateResponse(resp), nil
}

// Stream renders a streaming Chat Completion, folding SSE deltas into
// provider.Chunk values.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("stream", err)
	}
	return &streamer{stream: stream}, nil
}

func (c *Client) prepareRequest(req provider.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := c.resolveModel(req)
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	return params, nil
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

func encodeMessages(msgs []provider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := textOf(m)
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case provider.RoleUser:
			out = append(out, openai.UserMessage(text))
		case provider.RoleAssistant:
			assistant := openai.AssistantMessage(text)
			for _, part := range m.Parts {
				if tu, ok := part.(provider.ToolUsePart); ok {
					args, err := json.Marshal(tu.Input)
					if err != nil {
						return nil, fmt.Errorf("openai: encode tool_use %q args: %w", tu.Name, err)
					}
					if assistant.OfAssistant != nil {
						assistant.OfAssistant.ToolCalls = append(assistant.OfAssistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
							ID: tu.ID,
							Function: openai.ChatCompletionMessageToolCallFunctionParam{
								Name:      tu.Name,
								Arguments: string(args),
							},
						})
					}
				}
			}
			out = append(out, assistant)
		default:
			for _, part := range m.Parts {
				if tr, ok := part.(provider.ToolResultPart); ok {
					out = append(out, openai.ToolMessage(toolResultText(tr), tr.ToolUseID))
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func textOf(m provider.Message) string {
	var b strings.Builder
	for _, part := range m.Parts {
		if tp, ok := part.(provider.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func toolResultText(tr provider.ToolResultPart) string {
	switch v := tr.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []provider.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if def.InputSchema != nil {
			data, err := json.Marshal(def.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("openai: marshal tool %q schema: %w", def.Name, err)
			}
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("openai: tool %q schema is not an object: %w", def.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(params),
		}))
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) provider.Response {
	out := provider.Response{}
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			out.Content = append(out.Content, provider.Message{
				Role:  provider.RoleAssistant,
				Parts: []provider.Part{provider.TextPart{Text: choice.Message.Content}},
			})
		}
		for _, call := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				ID:      call.ID,
				Name:    call.Function.Name,
				Payload: decodeArguments(call.Function.Arguments),
			})
		}
		if out.StopReason == "" {
			out.StopReason = string(choice.FinishReason)
		}
	}
	out.Usage = provider.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}

func decodeArguments(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{"raw": raw}
	}
	return v
}

func wrapError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		return provider.NewError("openai", op, status, classifyStatus(status), "", apiErr.Error(), "", provider.RetryableFromHTTPStatus(status), err)
	}
	return provider.NewError("openai", op, 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
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
