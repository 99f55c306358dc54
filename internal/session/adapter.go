package session

import (
	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/tools"
)

// Adapter separates "build a provider Request from history" (prompt
// assembly) from the submit driver loop, so provider-specific prompt
// shaping can vary without touching the state machine. Grounded on
// forge-agent/src/session/adapters.rs, mirroring the teacher's
// planner.Planner / runtime.Runtime separation.
type Adapter interface {
	BuildRequest(history []HistoryTurn, toolDefs []tools.Tool, cfg Config, systemPrompt string) (provider.Request, error)
}

// DefaultAdapter is the built-in Adapter: it maps HistoryTurn variants onto
// provider.Message roles/parts directly, with no provider-specific
// reshaping.
type DefaultAdapter struct{}

func (DefaultAdapter) BuildRequest(history []HistoryTurn, toolDefs []tools.Tool, cfg Config, systemPrompt string) (provider.Request, error) {
	if !validReasoningEffort(cfg.ReasoningEffort) {
		return provider.Request{}, ErrInvalidReasoningEffort{Value: cfg.ReasoningEffort}
	}

	var messages []provider.Message
	if systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Parts: []provider.Part{provider.TextPart{Text: systemPrompt}}})
	}
	for _, t := range history {
		messages = append(messages, historyTurnToMessages(t)...)
	}

	defs := make([]provider.ToolDefinition, len(toolDefs))
	for i, t := range toolDefs {
		defs[i] = provider.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.Parameters}
	}

	return provider.Request{
		Messages: messages,
		Tools:    defs,
	}, nil
}

func historyTurnToMessages(t HistoryTurn) []provider.Message {
	switch t.Kind {
	case TurnUser:
		return []provider.Message{{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart{Text: t.Text}}}}
	case TurnSystem:
		return []provider.Message{{Role: provider.RoleSystem, Parts: []provider.Part{provider.TextPart{Text: t.Text}}}}
	case TurnSteering:
		return []provider.Message{{Role: provider.RoleUser, Parts: []provider.Part{provider.TextPart{Text: t.Text}}}}
	case TurnAssistant:
		parts := make([]provider.Part, 0, 1+len(t.ToolCalls))
		if t.AssistantText != "" {
			parts = append(parts, provider.TextPart{Text: t.AssistantText})
		}
		for _, tc := range t.ToolCalls {
			parts = append(parts, provider.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Payload})
		}
		return []provider.Message{{Role: provider.RoleAssistant, Parts: parts}}
	case TurnToolResults:
		parts := make([]provider.Part, 0, len(t.Results))
		for _, r := range t.Results {
			parts = append(parts, provider.ToolResultPart{ToolUseID: r.CallID, Content: r.Content, IsError: r.IsError})
		}
		return []provider.Message{{Role: provider.RoleUser, Parts: parts}}
	}
	return nil
}

// BuildSystemPrompt resolves the effective system prompt for a submit call:
// cfg.SystemPromptOverride if set, otherwise base (typically assembled by a
// collaborator from an environment snapshot and project docs, out of this
// package's scope per spec.md §4.6 step 3).
func BuildSystemPrompt(cfg Config, base string) string {
	if cfg.SystemPromptOverride != "" {
		return cfg.SystemPromptOverride
	}
	return base
}
