package anthropic

import (
	"context"
	"errors"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgehq/forge/internal/provider"
)

// streamer adapts an Anthropic Messages SSE stream to provider.Streamer,
// folding ContentBlockStart/Delta/Stop events into provider.Chunk values.
// Grounded on features/model/anthropic/stream.go's event switch, simplified
// to this module's Chunk vocabulary (no thinking/signature deltas, which
// SPEC_FULL.md's provider contract does not surface as distinct chunk kinds).
type streamer struct {
	stream    *ssestream.Stream[sdk.MessageStreamEventUnion]
	toolNames map[string]string

	pending map[int]*toolBuffer
	queue   []provider.Chunk
}

type toolBuffer struct {
	id, name string
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
		if s.pending == nil {
			s.pending = make(map[int]*toolBuffer)
		}
		if err := s.handle(s.stream.Current()); err != nil {
			return provider.Chunk{}, err
		}
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

func (s *streamer) emit(c provider.Chunk) { s.queue = append(s.queue, c) }

func (s *streamer) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.pending = make(map[int]*toolBuffer)
		return nil
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if tu.ID == "" || tu.Name == "" {
				return errors.New("anthropic stream: tool_use block missing id/name")
			}
			name := tu.Name
			if canonical, ok := s.toolNames[name]; ok {
				name = canonical
			}
			s.pending[idx] = &toolBuffer{id: tu.ID, name: name}
			s.emit(provider.Chunk{Kind: provider.ChunkToolUseStart, ToolCallID: tu.ID, ToolName: name})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.emit(provider.Chunk{Kind: provider.ChunkText, Text: delta.Text})
			}
		case sdk.InputJSONDelta:
			if tb := s.pending[idx]; tb != nil && delta.PartialJSON != "" {
				s.emit(provider.Chunk{Kind: provider.ChunkToolUseDelta, ToolCallID: tb.id, ToolName: tb.name, Text: delta.PartialJSON})
			}
		}
		return nil
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb, ok := s.pending[idx]; ok {
			s.emit(provider.Chunk{Kind: provider.ChunkToolUseEnd, ToolCallID: tb.id, ToolName: tb.name})
			delete(s.pending, idx)
		}
		return nil
	case sdk.MessageDeltaEvent:
		if reason := string(ev.Delta.StopReason); reason != "" {
			s.emit(provider.Chunk{Kind: provider.ChunkUsage, Usage: provider.TokenUsage{
				OutputTokens: int(ev.Usage.OutputTokens),
			}})
			s.emit(provider.Chunk{Kind: provider.ChunkDone, StopReason: reason})
		}
		return nil
	default:
		return nil
	}
}
