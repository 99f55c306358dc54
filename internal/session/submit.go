package session

import (
	"context"
	"fmt"
	"time"

	"github.com/forgehq/forge/internal/provider"
)

// SubmitOptions customizes one submit() exchange beyond the Session's
// standing Config.
type SubmitOptions struct {
	ReasoningEffort      ReasoningEffort // overrides Config.ReasoningEffort for this call if non-empty
	SystemPrompt         string          // overrides Config.SystemPromptOverride for this call if non-empty
	ContextCapability    ContextCapability
}

// SubmitResult is returned by Submit/SubmitWithOptions once the exchange
// completes (spec.md §4.6).
type SubmitResult struct {
	AssistantText string
	ToolRounds    int
	LoopDetected  bool
}

// Submit drives one full exchange: append the user turn, call the provider
// (looping through tool-call rounds as needed), and return once the
// assistant responds with no further tool calls.
func (s *Session) Submit(ctx context.Context, userInput string) (SubmitResult, error) {
	return s.SubmitWithOptions(ctx, userInput, SubmitOptions{})
}

// SubmitWithOptions is Submit with a per-call override of reasoning effort,
// system prompt, and the provider capability used for the context-usage
// check (spec.md §4.6/§4.10).
func (s *Session) SubmitWithOptions(ctx context.Context, userInput string, opts SubmitOptions) (SubmitResult, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return SubmitResult{}, ErrSessionClosed{SessionID: s.ID}
	}
	if err := s.transition(StateProcessing); err != nil {
		s.mu.Unlock()
		return SubmitResult{}, err
	}
	s.toolRoundCount = 0
	s.history = append(s.history, HistoryTurn{Kind: TurnUser, Timestamp: time.Now(), Text: userInput})
	s.mu.Unlock()
	s.emit(EventUserInput, map[string]any{"text": userInput})
	s.persistLastTurn(ctx, "forge.agent.user_turn")

	// Drain steering queue: prepend any queued steering messages before the
	// next provider request (spec.md §4.6 step 2).
	s.mu.Lock()
	steering := s.steeringQueue
	s.steeringQueue = nil
	for _, text := range steering {
		s.history = append(s.history, HistoryTurn{Kind: TurnSteering, Timestamp: time.Now(), Text: text})
	}
	s.mu.Unlock()
	for range steering {
		s.persistLastTurn(ctx, "forge.agent.steering_turn")
	}

	cfg := s.config
	if opts.ReasoningEffort != "" {
		cfg.ReasoningEffort = opts.ReasoningEffort
	}
	if opts.SystemPrompt != "" {
		cfg.SystemPromptOverride = opts.SystemPrompt
	}
	systemPrompt := BuildSystemPrompt(cfg, "")

	var result SubmitResult
	for {
		if s.IsAbortRequested() {
			break
		}

		s.mu.Lock()
		history := append([]HistoryTurn(nil), s.history...)
		s.mu.Unlock()

		toolDefs := s.toolRegistry.Definitions()
		req, err := s.adapter.BuildRequest(history, toolDefs, cfg, systemPrompt)
		if err != nil {
			s.mu.Lock()
			s.transition(StateIdle)
			s.mu.Unlock()
			return SubmitResult{}, err
		}

		s.emit(EventAssistantTextStart, nil)
		resp, err := s.llmClient.Complete(ctx, req)
		if err != nil {
			s.mu.Lock()
			s.transition(StateIdle)
			s.mu.Unlock()
			return SubmitResult{}, err
		}

		assistantText := extractText(resp)
		s.emit(EventAssistantTextDelta, map[string]any{"text": assistantText})
		s.emit(EventAssistantTextEnd, nil)

		s.mu.Lock()
		s.history = append(s.history, HistoryTurn{
			Kind:          TurnAssistant,
			Timestamp:     time.Now(),
			AssistantText: assistantText,
			ToolCalls:     resp.ToolCalls,
			Usage:         resp.Usage,
		})
		s.mu.Unlock()
		s.persistLastTurn(ctx, "forge.agent.assistant_turn")

		if len(resp.ToolCalls) == 0 {
			result.AssistantText = assistantText
			break
		}

		s.toolRoundCount++
		if s.toolRoundCount >= cfg.MaxToolRoundsPerInput {
			s.mu.Lock()
			s.transition(StateIdle)
			s.mu.Unlock()
			return SubmitResult{}, ErrBudgetExhausted{Reason: "tool-round budget exhausted"}
		}

		results := s.dispatchBatch(ctx, resp.ToolCalls)
		s.mu.Lock()
		s.history = append(s.history, HistoryTurn{Kind: TurnToolResults, Timestamp: time.Now(), Results: results})
		s.mu.Unlock()
		s.persistLastTurn(ctx, "forge.agent.tool_results_turn")

		if s.maybeInjectLoopSteering(cfg) {
			result.LoopDetected = true
		}
	}

	s.maybeEmitContextUsageWarning(opts.ContextCapability)

	s.mu.Lock()
	if s.state != StateClosed {
		s.transition(StateIdle)
	}
	s.mu.Unlock()

	result.ToolRounds = s.toolRoundCount
	return result, nil
}

// maybeInjectLoopSteering runs loop detection over the assistant's tool
// calls issued so far this submit and, if a repeating pattern is found,
// injects the steering turn described in spec.md §4.7 (unless the previous
// turn is already that message).
func (s *Session) maybeInjectLoopSteering(cfg Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Kind == TurnUser {
			start = i
			break
		}
	}
	var names []string
	for _, t := range s.history[start:] {
		if t.Kind == TurnAssistant {
			for _, tc := range t.ToolCalls {
				names = append(names, tc.Name)
			}
		}
	}
	if !detectLoop(names, cfg.LoopDetectionWindow) {
		return false
	}

	text := formatLoopSteering(cfg.LoopDetectionWindow)
	if len(s.history) > 0 {
		last := s.history[len(s.history)-1]
		if last.Kind == TurnSteering && last.Text == text {
			return false
		}
	}
	s.history = append(s.history, HistoryTurn{Kind: TurnSteering, Timestamp: time.Now(), Text: text})
	s.emitLocked(EventLoopDetection, map[string]any{"window": cfg.LoopDetectionWindow})
	return true
}

func formatLoopSteering(window int) string {
	return fmt.Sprintf(loopSteeringText, window)
}

// extractText concatenates every assistant TextPart in a Response's
// Content into the plain-text form stored on the HistoryTurn.
func extractText(resp provider.Response) string {
	var out string
	for _, m := range resp.Content {
		if m.Role != provider.RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if tp, ok := p.(provider.TextPart); ok {
				out += tp.Text
			}
		}
	}
	return out
}
