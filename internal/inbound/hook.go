package inbound

import (
	"context"
	"log/slog"

	"github.com/memohai/enginebridge/internal/breaker"
	"github.com/memohai/enginebridge/internal/pluginhost"
)

// HookPriority is the registration priority passed to RegisterHook: the
// bridge must see the event before the host's own reply generation runs.
const HookPriority = 100

// Before implements §4.6. It is a total function: every path returns
// (*pluginhost.Reply, nil) or (nil, nil) for pass-through. A deferred
// recover guards against any unexpected panic so the host never falls
// back silently to its built-in model on a plugin bug.
func (b *Bridge) Before(ctx context.Context, evt pluginhost.InboundEvent) (reply *pluginhost.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("inbound hook panicked", slog.Any("panic", r), slog.String("agent", evt.Agent))
			b.breaker.RecordFailure()
			reply, err = &pluginhost.Reply{Text: genericErrorReply, IsError: true}, nil
		}
	}()

	if !b.cfg.HasAgent(evt.Agent) {
		return nil, nil
	}

	if isHeartbeat(evt.Message) {
		return &pluginhost.Reply{Text: heartbeatMarkerOK}, nil
	}

	if denyReason := b.limiter.Check(evt.Agent); denyReason != "" {
		go b.limiter.SendAlert(context.Background(), denyReason, evt.Agent, b.logger)
		return &pluginhost.Reply{Text: denyReason, IsError: true}, nil
	}
	b.limiter.Record(evt.Agent)

	switch b.breaker.State() {
	case breaker.Open:
		return &pluginhost.Reply{Text: circuitOpenReply, IsError: true}, nil
	case breaker.HalfOpen:
		b.logger.Info("circuit breaker half-open, allowing probe request", slog.String("agent", evt.Agent))
	}

	if !b.supervisor.EnsureConnected(ctx) {
		b.breaker.RecordFailure()
		return &pluginhost.Reply{Text: connectionLostReply, IsError: true}, nil
	}

	r, dispatchErr := b.dispatch(ctx, rpcParams{
		correlationID:  b.newCorrelationID(),
		message:        evt.Message,
		from:           evt.From,
		agent:          evt.Agent,
		channel:        evt.Channel,
		accountID:      evt.AccountID,
		senderName:     evt.SenderName,
		senderUsername: evt.SenderUsername,
		senderID:       evt.SenderID,
		transcript:     evt.Transcript,
	}, true)
	if dispatchErr != nil {
		b.breaker.RecordFailure()
		b.logger.Error("inbound bridge request failed", slog.Any("error", dispatchErr), slog.String("agent", evt.Agent))
		return &pluginhost.Reply{Text: genericErrorReply, IsError: true}, nil
	}
	return r, nil
}
