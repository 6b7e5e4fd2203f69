// Package inbound implements the before_reply hook and redis_bridge tool:
// the correlated request/response RPC over the inbound stream and the
// rendezvous key, wrapped in rate-limiting, circuit-breaking, and
// auto-repair.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/memohai/enginebridge/internal/breaker"
	"github.com/memohai/enginebridge/internal/broker"
	"github.com/memohai/enginebridge/internal/config"
	"github.com/memohai/enginebridge/internal/pluginhost"
	"github.com/memohai/enginebridge/internal/ratelimit"
)

const (
	heartbeatMarkerOK   = "HEARTBEAT_OK"
	heartbeatMarkerDoc  = "Read HEARTBEAT.md"
	timeoutReplyText    = "The engine did not respond in time. Please try again."
	circuitOpenReply    = "Le moteur conversationnel est temporairement indisponible. Veuillez réessayer dans quelques instants."
	connectionLostReply = "Impossible de contacter le moteur conversationnel pour le moment. Veuillez réessayer plus tard."
	genericErrorReply   = "Le moteur a rencontré une erreur interne. Veuillez réessayer."
)

// appender is the XAdd subset the bridge depends on.
type appender interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// popper is the BLPop subset the bridge depends on.
type popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// connector is the auto-repair guard the bridge depends on, satisfied by
// *broker.Supervisor; tests substitute a fake to avoid needing live Redis.
type connector interface {
	EnsureConnected(ctx context.Context) bool
}

// Bridge holds every collaborator the hook and tool both need.
type Bridge struct {
	appender   appender
	popper     popper
	supervisor connector
	breaker    *breaker.Breaker
	limiter    *ratelimit.Limiter
	cfg        config.Config
	logger     *slog.Logger

	newCorrelationID func() string
	now              func() time.Time
}

// New wires a Bridge from the broker supervisor and the safety envelope.
func New(supervisor *broker.Supervisor, br *breaker.Breaker, limiter *ratelimit.Limiter, cfg config.Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		appender:         supervisor.Normal(),
		popper:           supervisor.Blocking(),
		supervisor:       supervisor,
		breaker:          br,
		limiter:          limiter,
		cfg:              cfg,
		logger:           logger.With(slog.String("component", "inbound-bridge")),
		newCorrelationID: uuid.NewString,
		now:              time.Now,
	}
}

type rpcParams struct {
	correlationID string
	message       string
	from          string
	agent         string
	channel       string
	accountID     string
	senderName    string
	senderUsername string
	senderID      string
	transcript    string
}

type engineReply struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// dispatch implements §4.6 steps 7-9: append the inbound entry, block on
// the rendezvous key, and translate the result into a reply. recordBreaker
// is false for the tool path, which deliberately does not exercise the
// breaker (§4.7).
func (b *Bridge) dispatch(ctx context.Context, p rpcParams, recordBreaker bool) (*pluginhost.Reply, error) {
	responseKey := config.ResponseKeyPrefix + p.correlationID
	sessionKey := fmt.Sprintf("%s:%s:%s", p.channel, p.accountID, p.from)

	fields := map[string]interface{}{
		"correlationId":   p.correlationID,
		"message":         p.message,
		"from":            p.from,
		"agent":           p.agent,
		"channel":         p.channel,
		"accountId":       p.accountID,
		"senderName":      p.senderName,
		"senderUsername":  p.senderUsername,
		"senderId":        p.senderID,
		"transcript":      p.transcript,
		"sessionKey":      sessionKey,
		"timestamp":       strconv.FormatInt(b.now().UnixMilli(), 10),
		"protocolVersion": config.ProtocolVersion,
	}

	if err := b.appender.XAdd(ctx, &redis.XAddArgs{Stream: config.InboundStream, Values: fields}).Err(); err != nil {
		return nil, fmt.Errorf("append inbound entry: %w", err)
	}

	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	res, err := b.popper.BLPop(ctx, timeout, responseKey).Result()
	if errors.Is(err, redis.Nil) {
		if recordBreaker {
			b.breaker.RecordFailure()
		}
		return &pluginhost.Reply{Text: timeoutReplyText, IsError: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rendezvous pop: %w", err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("rendezvous pop: unexpected result shape %v", res)
	}
	raw := res[1]

	var parsed engineReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = engineReply{Text: raw}
	}
	if parsed.Error != "" {
		b.logger.Error("engine returned error", slog.String("correlationId", p.correlationID), slog.String("error", parsed.Error))
		return &pluginhost.Reply{Text: "Engine error: " + parsed.Error, IsError: true}, nil
	}
	if recordBreaker {
		b.breaker.RecordSuccess()
	}
	return &pluginhost.Reply{Text: parsed.Text}, nil
}

func isHeartbeat(message string) bool {
	return strings.Contains(message, heartbeatMarkerOK) || strings.Contains(message, heartbeatMarkerDoc)
}
