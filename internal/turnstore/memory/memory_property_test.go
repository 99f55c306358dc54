package memory_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgehq/forge/internal/turnstore"
	"github.com/forgehq/forge/internal/turnstore/memory"
)

// TestAppendTurnProperties verifies IP1-IP3 from spec.md §8 against the
// in-memory TurnStore for arbitrary payloads and idempotency keys.
func TestAppendTurnProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("IP1: repeated append with the same idempotency key is a no-op", prop.ForAll(
		func(payload string, key string) bool {
			ctx := context.Background()
			s := memory.New()
			cid, err := s.CreateContext(ctx, nil)
			if err != nil {
				return false
			}
			req := turnstore.AppendRequest{
				ContextID:      cid,
				TypeID:         "forge.test.turn",
				TypeVersion:    1,
				Payload:        []byte(payload),
				IdempotencyKey: key,
			}
			first, err := s.AppendTurn(ctx, req)
			if err != nil {
				return false
			}
			second, err := s.AppendTurn(ctx, req)
			if err != nil {
				return false
			}
			if first.TurnID != second.TurnID {
				return false
			}
			turns, err := s.ListTurns(ctx, cid, nil, 100)
			if err != nil {
				return false
			}
			return len(turns) == 1
		},
		gen.AlphaString(),
		gen.Identifier(),
	))

	properties.Property("IP2: head advances to the appended turn at parent depth + 1", prop.ForAll(
		func(payloads []string) bool {
			ctx := context.Background()
			s := memory.New()
			cid, err := s.CreateContext(ctx, nil)
			if err != nil {
				return false
			}
			var parentDepth uint32
			for _, p := range payloads {
				appended, err := s.AppendTurn(ctx, turnstore.AppendRequest{
					ContextID:   cid,
					TypeID:      "forge.test.turn",
					TypeVersion: 1,
					Payload:     []byte(p),
				})
				if err != nil {
					return false
				}
				if appended.Depth != parentDepth+1 {
					return false
				}
				head, err := s.GetHead(ctx, cid)
				if err != nil || head.TurnID != appended.TurnID {
					return false
				}
				parentDepth = appended.Depth
			}
			return true
		},
		gen.SliceOfN(5, gen.AlphaString()),
	))

	properties.Property("IP3: content hash equals BLAKE3 of the payload", prop.ForAll(
		func(payload string) bool {
			ctx := context.Background()
			s := memory.New()
			cid, err := s.CreateContext(ctx, nil)
			if err != nil {
				return false
			}
			appended, err := s.AppendTurn(ctx, turnstore.AppendRequest{
				ContextID:   cid,
				TypeID:      "forge.test.turn",
				TypeVersion: 1,
				Payload:     []byte(payload),
			})
			if err != nil {
				return false
			}
			return appended.ContentHash == turnstore.HashBlob([]byte(payload))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
