package bedrock

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/forgehq/forge/internal/provider"
)

// streamer adapts a Bedrock ConverseStream event channel to provider.Streamer.
// Grounded on features/model/bedrock/stream.go's event switch, dropping the
// citation/reasoning branches this module's Chunk vocabulary has no slot for.
type streamer struct {
	events <-chan brtypes.ConverseStreamOutput
	stream *bedrockruntime.ConverseStreamEventStream

	pending map[int32]*toolBuffer
	queue   []provider.Chunk
}

type toolBuffer struct {
	id, name string
}

func (s *streamer) Next(ctx context.Context) (provider.Chunk, error) {
	for len(s.queue) == 0 {
		if s.pending == nil {
			s.pending = make(map[int32]*toolBuffer)
		}
		select {
		case <-ctx.Done():
			return provider.Chunk{}, ctx.Err()
		case event, ok := <-s.events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					return provider.Chunk{}, err
				}
				return provider.Chunk{}, io.EOF
			}
			if err := s.handle(event); err != nil {
				return provider.Chunk{}, err
			}
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

func (s *streamer) handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		s.pending = make(map[int32]*toolBuffer)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		if tu, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			s.pending[*idx] = &toolBuffer{id: aws.ToString(tu.Value.ToolUseId), name: aws.ToString(tu.Value.Name)}
			s.emit(provider.Chunk{Kind: provider.ChunkToolUseStart, ToolCallID: aws.ToString(tu.Value.ToolUseId), ToolName: aws.ToString(tu.Value.Name)})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				s.emit(provider.Chunk{Kind: provider.ChunkText, Text: delta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := s.pending[*idx]; tb != nil && delta.Value.Input != nil {
				s.emit(provider.Chunk{Kind: provider.ChunkToolUseDelta, ToolCallID: tb.id, ToolName: tb.name, Text: *delta.Value.Input})
			}
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		if tb, ok := s.pending[*idx]; ok {
			s.emit(provider.Chunk{Kind: provider.ChunkToolUseEnd, ToolCallID: tb.id, ToolName: tb.name})
			delete(s.pending, *idx)
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		s.emit(provider.Chunk{Kind: provider.ChunkDone, StopReason: string(ev.Value.StopReason)})
		return nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		u := ev.Value.Usage
		s.emit(provider.Chunk{Kind: provider.ChunkUsage, Usage: provider.TokenUsage{
			InputTokens:  int(aws.ToInt32(u.InputTokens)),
			OutputTokens: int(aws.ToInt32(u.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(u.TotalTokens)),
		}})
		return nil
	default:
		return nil
	}
}
