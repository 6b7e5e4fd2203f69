// Package plugin wires the bridge's components together and registers
// them with the gateway plugin host: the before_reply hook, the
// redis_bridge tool, and the outbound delivery worker as a background
// service.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/enginebridge/internal/breaker"
	"github.com/memohai/enginebridge/internal/broker"
	"github.com/memohai/enginebridge/internal/config"
	"github.com/memohai/enginebridge/internal/deliverycli"
	"github.com/memohai/enginebridge/internal/inbound"
	"github.com/memohai/enginebridge/internal/outbound"
	"github.com/memohai/enginebridge/internal/pluginhost"
	"github.com/memohai/enginebridge/internal/ratelimit"
	"github.com/memohai/enginebridge/internal/splitter"
)

// Bridge is the fully wired plugin: the inbound bridge used by the hook
// and tool, and the outbound worker registered as a background service.
type Bridge struct {
	Config     config.Config
	Logger     *slog.Logger
	Supervisor *broker.Supervisor
	Breaker    *breaker.Breaker
	Limiter    *ratelimit.Limiter
	Inbound    *inbound.Bridge
	Outbound   *outbound.Worker
	Resolver   *deliverycli.Resolver
}

// cliAlerter adapts the delivery CLI into ratelimit.Alerter, so rate-limit
// alerts go out over the same channel as ordinary outbound deliveries.
type cliAlerter struct {
	resolver *deliverycli.Resolver
	chatID   string
}

func (a *cliAlerter) Alert(ctx context.Context, chatID, message string) error {
	return a.resolver.Send(ctx, deliverycli.SendArgs{Channel: "system", Target: chatID, Message: message})
}

// Build constructs every collaborator from an already-resolved cfg, but
// does not start the outbound worker or touch the broker - call Start
// for that.
func Build(cfg config.Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	supervisor, err := broker.New(cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("plugin: build broker supervisor: %w", err)
	}

	resolver := deliverycli.NewResolver(deliverycli.ExecRunner{})
	br := breaker.New(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	limiter := ratelimit.New(
		cfg.RateLimitGlobalPerHour,
		cfg.RateLimitAgentPerHour,
		cfg.RateLimitAlertChatID,
		time.Duration(cfg.RateLimitAlertCooldownS)*time.Second,
		ratelimit.WithAlerter(&cliAlerter{resolver: resolver, chatID: cfg.RateLimitAlertChatID}),
	)
	publisher := splitter.NewPublisher(cfg.ContentPublisherURL, cfg.ContentPublisherToken, cfg.ContentPublisherPublicURL)

	ib := inbound.New(supervisor, br, limiter, cfg, logger)
	worker := outbound.New(supervisor.Blocking(), supervisor.Normal(), cfg.ConsumerGroup, cfg.ConsumerName, publisher, resolver, logger)

	return &Bridge{
		Config:     cfg,
		Logger:     logger,
		Supervisor: supervisor,
		Breaker:    br,
		Limiter:    limiter,
		Inbound:    ib,
		Outbound:   worker,
		Resolver:   resolver,
	}, nil
}

// Register wires every hook, tool, and background service onto host. The
// host owns the outbound worker's lifecycle from this point on.
func (b *Bridge) Register(host pluginhost.Host) {
	host.RegisterHook("before_reply", inbound.HookPriority, b.Inbound.Before)
	host.RegisterTool("redis_bridge", b.Inbound.ToolFactory())
	host.RegisterService("enginebridge-outbound", b)
}

// Start connects the broker, resolves the delivery binary, and starts the
// outbound worker's poll loop. Implements pluginhost.Service.
func (b *Bridge) Start(ctx context.Context) error {
	connectTimeout := time.Duration(b.Config.ReconnectTimeoutSeconds) * time.Second
	if err := b.Supervisor.Connect(ctx, connectTimeout); err != nil {
		return fmt.Errorf("plugin: broker connect: %w", err)
	}
	b.Resolver.Resolve(ctx)
	if err := b.Outbound.Start(ctx); err != nil {
		return fmt.Errorf("plugin: start outbound worker: %w", err)
	}
	return nil
}

// Stop halts the outbound worker and closes both broker connections.
// Implements pluginhost.Service.
func (b *Bridge) Stop(ctx context.Context) error {
	if err := b.Outbound.Stop(ctx); err != nil {
		b.Logger.Warn("outbound worker stop reported an error", slog.Any("error", err))
	}
	b.Supervisor.Close()
	return nil
}

