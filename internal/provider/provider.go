// Package provider defines the model-provider contract shared by every
// backend adapter (Anthropic, OpenAI, Bedrock) and the Agent Engine's
// planner loop. Grounded on runtime/agent/model (request/response shapes)
// and features/model/{anthropic,openai} (adapter structure) from the
// teacher repo; see spec.md §4.6 for how Complete/Stream are driven.
package provider

import (
	"context"
	"errors"
	"io"
)

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ModelClass lets a caller ask for "the high-reasoning model" or "the small
// model" without naming a concrete provider model id.
type ModelClass string

const (
	ModelClassDefault       ModelClass = ""
	ModelClassHighReasoning ModelClass = "high_reasoning"
	ModelClassSmall         ModelClass = "small"
)

// Part is one content unit within a Message.
type Part interface{ isPart() }

// TextPart is plain text content.
type TextPart struct{ Text string }

func (TextPart) isPart() {}

// ToolUsePart is an assistant-issued tool invocation.
type ToolUsePart struct {
	ID    string
	Name  string
	Input any
}

func (ToolUsePart) isPart() {}

// ToolResultPart is the result of a tool invocation fed back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (ToolResultPart) isPart() {}

// Message is one turn of the conversation sent to or received from a
// provider.
type Message struct {
	Role  ConversationRole
	Parts []Part
}

// ToolDefinition describes one tool a provider may choose to invoke.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolChoiceMode constrains which tool(s) a provider may call.
type ToolChoiceMode string

const (
	ToolChoiceModeAuto ToolChoiceMode = "auto"
	ToolChoiceModeNone ToolChoiceMode = "none"
	ToolChoiceModeAny  ToolChoiceMode = "any"
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

// ToolChoice selects how a provider should pick among ToolDefinitions.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // required when Mode == ToolChoiceModeTool
}

// ThinkingConfig requests extended/chain-of-thought reasoning when the
// provider supports it.
type ThinkingConfig struct {
	Enable       bool
	BudgetTokens int
}

// Request is a single completion request sent to a provider Client.
type Request struct {
	Model       string
	ModelClass  ModelClass
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  *ToolChoice
	MaxTokens   int
	Temperature float32
	Thinking    *ThinkingConfig
}

// ToolCall is one tool invocation the provider asked the caller to perform.
type ToolCall struct {
	ID      string
	Name    string
	Payload any
}

// TokenUsage reports token accounting for a single completion.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Response is the provider's answer to a Request.
type Response struct {
	Content    []Message
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// ChunkKind distinguishes the incremental pieces a Streamer yields.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkToolUseStart
	ChunkToolUseDelta
	ChunkToolUseEnd
	ChunkUsage
	ChunkDone
)

// Chunk is one incremental piece of a streamed Response.
type Chunk struct {
	Kind        ChunkKind
	Text        string
	ToolCallID  string
	ToolName    string
	ToolPayload any // complete payload; the bundled adapters leave it nil, and StreamAccumulator then uses the streamed delta text
	Usage       TokenUsage
	StopReason  string
}

// Streamer yields Chunks for a single in-flight Stream call.
type Streamer interface {
	// Next blocks until the next Chunk is available, or returns io.EOF once
	// the stream completes normally.
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Client is the contract every provider adapter implements.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Factory builds a Client from a provider-specific config map (typically
// decoded from the session/pipeline configuration).
type Factory func(config map[string]any) (Client, error)

// StreamAccumulator consumes a Streamer's Chunks and folds them into a
// single Response, the way the Agent Engine does when it needs the final
// assistant message after displaying incremental output.
type StreamAccumulator struct {
	resp         Response
	pendingCalls map[string]*pendingToolCall
	order        []string
}

type pendingToolCall struct {
	id, name string
	text     []byte
}

// NewStreamAccumulator builds an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{pendingCalls: make(map[string]*pendingToolCall)}
}

// Feed folds one Chunk into the accumulator's running Response.
func (a *StreamAccumulator) Feed(c Chunk) {
	switch c.Kind {
	case ChunkText:
		a.appendText(c.Text)
	case ChunkToolUseStart:
		a.pendingCalls[c.ToolCallID] = &pendingToolCall{id: c.ToolCallID, name: c.ToolName}
		a.order = append(a.order, c.ToolCallID)
	case ChunkToolUseDelta:
		if p, ok := a.pendingCalls[c.ToolCallID]; ok {
			p.text = append(p.text, c.Text...)
		}
	case ChunkToolUseEnd:
		if p, ok := a.pendingCalls[c.ToolCallID]; ok {
			payload := c.ToolPayload
			if payload == nil {
				payload = string(p.text)
			}
			a.resp.ToolCalls = append(a.resp.ToolCalls, ToolCall{ID: p.id, Name: p.name, Payload: payload})
			delete(a.pendingCalls, c.ToolCallID)
		}
	case ChunkUsage:
		a.resp.Usage = c.Usage
	case ChunkDone:
		a.resp.StopReason = c.StopReason
	}
}

func (a *StreamAccumulator) appendText(text string) {
	if text == "" {
		return
	}
	if len(a.resp.Content) == 0 || !isAssistantText(a.resp.Content[len(a.resp.Content)-1]) {
		a.resp.Content = append(a.resp.Content, Message{Role: RoleAssistant, Parts: []Part{TextPart{}}})
	}
	last := &a.resp.Content[len(a.resp.Content)-1]
	tp := last.Parts[0].(TextPart)
	tp.Text += text
	last.Parts[0] = tp
}

func isAssistantText(m Message) bool {
	if m.Role != RoleAssistant || len(m.Parts) != 1 {
		return false
	}
	_, ok := m.Parts[0].(TextPart)
	return ok
}

// Drain consumes the Streamer to completion and returns the accumulated
// Response.
func (a *StreamAccumulator) Drain(ctx context.Context, s Streamer) (Response, error) {
	defer s.Close()
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return a.resp, nil
			}
			return a.resp, err
		}
		a.Feed(chunk)
		if chunk.Kind == ChunkDone {
			return a.resp, nil
		}
	}
}
