package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEmitterOptions configures a RedisEmitter. Grounded on the teacher's
// ResultStreamManagerOptions (registry/result_stream.go): a required client
// plus a TTL with a documented default, used the same way here to keep one
// session's event stream from growing unbounded in Redis once the session
// closes.
type RedisEmitterOptions struct {
	// Client is the Redis client events are published through.
	Client *redis.Client
	// StreamPrefix namespaces the per-session stream key; defaults to
	// "forge:session:events:".
	StreamPrefix string
	// StreamTTL expires the stream some time after its last write, so a
	// forgotten session's events don't accumulate forever. Defaults to
	// DefaultStreamTTL.
	StreamTTL time.Duration
	// MaxLen caps the stream to its most recent entries (approximate
	// trimming via XADD MAXLEN ~). Zero means unbounded.
	MaxLen int64
}

// DefaultStreamTTL matches the teacher's DefaultMappingTTL for temporary
// per-invocation Redis state.
const DefaultStreamTTL = 5 * time.Minute

// RedisEmitter forwards every Session event to a Redis stream, one stream
// per session, for a remote TUI or websocket bridge to tail with XREAD.
// This is the "forward to ... a websocket" emitter spec.md §4.9 leaves to
// the caller.
type RedisEmitter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64
}

// NewRedisEmitter constructs a RedisEmitter. Returns an error if Client is
// nil, matching the teacher's required-field validation.
func NewRedisEmitter(opts RedisEmitterOptions) (*RedisEmitter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session: redis client is required")
	}
	prefix := opts.StreamPrefix
	if prefix == "" {
		prefix = "forge:session:events:"
	}
	ttl := opts.StreamTTL
	if ttl == 0 {
		ttl = DefaultStreamTTL
	}
	return &RedisEmitter{rdb: opts.Client, prefix: prefix, ttl: ttl, maxLen: opts.MaxLen}, nil
}

func (r *RedisEmitter) streamKey(sessionID string) string {
	return r.prefix + sessionID
}

// Emit publishes e to the session's Redis stream and refreshes its TTL.
// Redis errors are swallowed: the event stream is a best-effort observer
// channel, never a dependency of the submit driver (spec.md §4.9 makes the
// default emitter a no-op for the same reason).
func (r *RedisEmitter) Emit(e Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := r.streamKey(e.SessionID)
	args := &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{
			"kind":      string(e.Kind),
			"timestamp": e.Timestamp.UnixNano(),
			"data":      string(data),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if _, err := r.rdb.XAdd(ctx, args).Result(); err != nil {
		return
	}
	r.rdb.Expire(ctx, key, r.ttl)
}

var _ Emitter = (*RedisEmitter)(nil)
