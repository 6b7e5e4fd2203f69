// Package pluginhost describes the contract the gateway host exposes to
// plugins: hook registration for the before_reply event, tool registration,
// and the handful of host-provided collaborators (logger, plugin config,
// delivery CLI) the bridge needs but does not implement.
package pluginhost

import (
	"context"
	"log/slog"
	"strings"
)

// Reply is what a before_reply hook returns to short-circuit the host's
// own reply generation. A nil Reply from Hook means "pass through": the
// host proceeds to its built-in model as if the plugin were not installed.
type Reply struct {
	Text    string
	IsError bool
}

// InboundEvent carries the fields the host passes into before_reply.
type InboundEvent struct {
	Message        string
	From           string
	Agent          string
	Channel        string
	AccountID      string
	SenderName     string
	SenderUsername string
	SenderID       string
	Transcript     string
}

// Hook is a before_reply handler. It must be total: every code path ends in
// a (*Reply, nil) or (*Reply, err) - an unhandled panic here is a correctness
// bug because the host falls back to its own model on uncaught exceptions.
type Hook func(ctx context.Context, evt InboundEvent) (*Reply, error)

// ToolSessionContext carries request-scoped identity for tool execution,
// mirroring the shape the host passes to any registered tool.
type ToolSessionContext struct {
	Agent   string
	Channel string
}

// ToolDescriptor is the tool description shape the host's tool registry
// expects at registration time.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolFunc executes a registered tool call.
type ToolFunc func(ctx context.Context, session ToolSessionContext, arguments map[string]any) (map[string]any, error)

// ToolFactory builds a tool for a given agent, or returns a zero
// ToolDescriptor, a nil ToolFunc and false
// when the tool does not apply to that agent. The host calls the factory
// once per agent at registration time.
type ToolFactory func(agent string) (ToolDescriptor, ToolFunc, bool)

// Host is the subset of the gateway plugin host this bridge depends on.
// The real implementation lives in the host process; this interface is the
// seam the bridge is tested against.
type Host interface {
	RegisterHook(event string, priority int, hook Hook)
	RegisterTool(name string, factory ToolFactory)
	RegisterService(name string, svc Service)
	Logger() *slog.Logger
	ConfigValue(key string) (string, bool)
}

// Service is a long-running background component the host starts and stops
// alongside the plugin's own lifecycle (the outbound delivery worker is one).
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// BuildToolSuccess wraps a text result the way the host expects a tool
// response to look.
func BuildToolSuccess(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	}
}

// StringArg reads and trims a string argument from a tool call payload.
func StringArg(arguments map[string]any, key string) string {
	if arguments == nil {
		return ""
	}
	raw, ok := arguments[key]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}
