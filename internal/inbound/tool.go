package inbound

import (
	"context"
	"fmt"

	"github.com/memohai/enginebridge/internal/pluginhost"
)

const toolName = "redis_bridge"

// ToolFactory builds the redis_bridge tool factory described in §4.7: the
// factory returns false for any agent outside the configured set, and the
// tool itself runs only steps 7-9 of the hook flow with from="proxy",
// deliberately bypassing the rate limiter, breaker, and auto-repair since
// it is an explicit opt-in path.
func (b *Bridge) ToolFactory() pluginhost.ToolFactory {
	return func(agent string) (pluginhost.ToolDescriptor, pluginhost.ToolFunc, bool) {
		if !b.cfg.HasAgent(agent) {
			return pluginhost.ToolDescriptor{}, nil, false
		}
		descriptor := pluginhost.ToolDescriptor{
			Name:        toolName,
			Description: "Send a message directly to the bridged conversational engine and wait for its reply.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The message to forward to the engine.",
					},
				},
				"required": []string{"message"},
			},
		}
		return descriptor, b.toolFunc(agent), true
	}
}

func (b *Bridge) toolFunc(agent string) pluginhost.ToolFunc {
	return func(ctx context.Context, session pluginhost.ToolSessionContext, arguments map[string]any) (map[string]any, error) {
		message := pluginhost.StringArg(arguments, "message")
		if message == "" {
			return nil, fmt.Errorf("redis_bridge: message argument is required")
		}
		channel := session.Channel
		if channel == "" {
			channel = agent
		}
		reply, err := b.dispatch(ctx, rpcParams{
			correlationID: b.newCorrelationID(),
			message:       message,
			from:          "proxy",
			agent:         agent,
			channel:       channel,
		}, false)
		if err != nil {
			return nil, fmt.Errorf("redis_bridge: %w", err)
		}
		if reply.IsError {
			return nil, fmt.Errorf("redis_bridge: %s", reply.Text)
		}
		return pluginhost.BuildToolSuccess(reply.Text), nil
	}
}
