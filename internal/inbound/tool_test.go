package inbound

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/enginebridge/internal/breaker"
	"github.com/memohai/enginebridge/internal/pluginhost"
	"github.com/memohai/enginebridge/internal/ratelimit"
)

func TestToolFactoryReturnsFalseForUnbridgedAgent(t *testing.T) {
	b := newTestBridge(&fakeAppender{}, &fakePopper{}, fakeConnector{ready: true},
		breaker.New(5, 15*time.Second), ratelimit.New(60, 20, "", 300*time.Second), baseConfig())

	_, _, ok := b.ToolFactory()("other")
	assert.False(t, ok)
}

func TestToolFactoryBuildsToolForBridgedAgent(t *testing.T) {
	payload, _ := json.Marshal(engineReply{Text: "pong"})
	pop := &fakePopper{val: []string{"k", string(payload)}}
	b := newTestBridge(&fakeAppender{}, pop, fakeConnector{ready: true},
		breaker.New(5, 15*time.Second), ratelimit.New(60, 20, "", 300*time.Second), baseConfig())

	descriptor, fn, ok := b.ToolFactory()("eng-1")
	require.True(t, ok)
	assert.Equal(t, toolName, descriptor.Name)

	result, err := fn(context.Background(), pluginhost.ToolSessionContext{Agent: "eng-1", Channel: "cli"}, map[string]any{"message": "ping"})
	require.NoError(t, err)
	content, _ := result["content"].([]map[string]any)
	require.Len(t, content, 1)
	assert.Equal(t, "pong", content[0]["text"])
}

func TestToolFuncRejectsEmptyMessage(t *testing.T) {
	b := newTestBridge(&fakeAppender{}, &fakePopper{}, fakeConnector{ready: true},
		breaker.New(5, 15*time.Second), ratelimit.New(60, 20, "", 300*time.Second), baseConfig())

	_, fn, ok := b.ToolFactory()("eng-1")
	require.True(t, ok)
	_, err := fn(context.Background(), pluginhost.ToolSessionContext{Agent: "eng-1"}, map[string]any{})
	assert.Error(t, err)
}

func TestToolFuncReturnsErrorOnTimeout(t *testing.T) {
	pop := &fakePopper{err: redis.Nil}
	b := newTestBridge(&fakeAppender{}, pop, fakeConnector{ready: true},
		breaker.New(5, 15*time.Second), ratelimit.New(60, 20, "", 300*time.Second), baseConfig())

	_, fn, ok := b.ToolFactory()("eng-1")
	require.True(t, ok)
	_, err := fn(context.Background(), pluginhost.ToolSessionContext{Agent: "eng-1"}, map[string]any{"message": "ping"})
	assert.Error(t, err)
}
