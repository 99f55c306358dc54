package openai

import (
	"context"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/forgehq/forge/internal/provider"
)

// streamer adapts an OpenAI Chat Completions streaming response to
// provider.Streamer. Each chunk carries at most one delta; tool-call deltas
// arrive indexed by tool_call position within the (single, for chat
// completions) choice.
type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	openToolCalls map[int64]string // index -> tool call id, once seen
	queue         []provider.Chunk
}

func (s *streamer) Next(ctx context.Context) (provider.Chunk, error) {
	for len(s.queue) == 0 {
		select {
		case <-ctx.Done():
			return provider.Chunk{}, ctx.Err()
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return provider.Chunk{}, err
			}
			return provider.Chunk{}, io.EOF
		}
		if s.openToolCalls == nil {
			s.openToolCalls = make(map[int64]string)
		}
		s.handle(s.stream.Current())
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

func (s *streamer) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) handle(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens > 0 {
		s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkUsage, Usage: provider.TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}})
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			id, seen := s.openToolCalls[tc.Index]
			if !seen {
				id = tc.ID
				s.openToolCalls[tc.Index] = id
				s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkToolUseStart, ToolCallID: id, ToolName: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkToolUseDelta, ToolCallID: id, ToolName: tc.Function.Name, Text: tc.Function.Arguments})
			}
		}
		if choice.FinishReason != "" {
			for _, id := range s.openToolCalls {
				s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkToolUseEnd, ToolCallID: id})
			}
			s.queue = append(s.queue, provider.Chunk{Kind: provider.ChunkDone, StopReason: string(choice.FinishReason)})
		}
	}
}
