package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/session"
)

// redisAddr follows the CXDB_ADDR pattern (spec.md §6.5): a REDIS_ADDR env
// var picks the target, defaulting to localhost. The test is skipped
// outright unless REDIS_INTEGRATION=1, matching the teacher's
// skipIntegration gate in registry/health_tracker_integration_test.go
// without pulling in its testcontainers dependency.
func getTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("REDIS_INTEGRATION") != "1" {
		t.Skip("set REDIS_INTEGRATION=1 with a reachable Redis to run this test")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNewRedisEmitterRequiresClient(t *testing.T) {
	_, err := session.NewRedisEmitter(session.RedisEmitterOptions{})
	require.Error(t, err)
}

func TestRedisEmitterPublishesEventsToSessionStream(t *testing.T) {
	rdb := getTestRedis(t)
	ctx := context.Background()

	emitter, err := session.NewRedisEmitter(session.RedisEmitterOptions{Client: rdb, StreamTTL: time.Minute})
	require.NoError(t, err)

	sid := "sess-redis-test"
	require.NoError(t, rdb.Del(ctx, "forge:session:events:"+sid).Err())

	emitter.Emit(session.Event{
		Kind:      session.EventSessionStart,
		Timestamp: time.Now(),
		SessionID: sid,
		Data:      map[string]any{"ok": true},
	})

	entries, err := rdb.XRange(ctx, "forge:session:events:"+sid, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(session.EventSessionStart), entries[0].Values["kind"])
}
