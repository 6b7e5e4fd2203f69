// Package broker supervises the two Redis connections the bridge needs: a
// "normal" client for publishes, acks, and pending-list inspection, and a
// dedicated "blocking" client for the rendezvous pop and the consumer-group
// read. Splitting them is mandatory - a blocked command on a shared
// connection would serialize every other command behind it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	pingTimeout        = 2 * time.Second
	reconnectPollEvery = 200 * time.Millisecond
	reconnectWaitMax   = 3 * time.Second
)

// Supervisor owns both connections and repairs them on demand.
type Supervisor struct {
	normal   *redis.Client
	blocking *redis.Client
	logger   *slog.Logger

	group singleflight.Group
}

// New builds a Supervisor from a redis:// URL. Both clients are created
// lazily; Connect (or EnsureConnected) must run before use.
func New(redisURL string, logger *slog.Logger) (*Supervisor, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// Per-command retry is disabled: a retried blocking command would
	// otherwise resend BLPOP/XREADGROUP mid-block and misbehave.
	opts.MaxRetries = -1
	normalOpts := *opts
	blockingOpts := *opts
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		normal:   redis.NewClient(&normalOpts),
		blocking: redis.NewClient(&blockingOpts),
		logger:   logger.With(slog.String("component", "broker")),
	}, nil
}

// Normal returns the client used for appends, acks, and inspection.
func (s *Supervisor) Normal() *redis.Client { return s.normal }

// Blocking returns the client reserved for blocking reads.
func (s *Supervisor) Blocking() *redis.Client { return s.blocking }

// Connect awaits readiness of both clients within timeout, failing service
// startup if the broker never becomes reachable.
func (s *Supervisor) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if s.IsReady(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("broker: timed out waiting for redis connections to become ready")
		}
		time.Sleep(reconnectPollEvery)
	}
}

// IsReady is never cached: it re-derives readiness from each client's
// current status on every call, because a silent connection drop would
// otherwise go unnoticed until the next command fails.
func (s *Supervisor) IsReady(ctx context.Context) bool {
	return ping(ctx, s.normal) && ping(ctx, s.blocking)
}

func ping(ctx context.Context, c *redis.Client) bool {
	cctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Ping(cctx).Err() == nil
}

// EnsureConnected implements the auto-repair guard: if already ready it
// returns immediately; otherwise at most one caller performs the actual
// reconnect while the rest wait up to reconnectWaitMax for its result.
func (s *Supervisor) EnsureConnected(ctx context.Context) bool {
	if s.IsReady(ctx) {
		return true
	}
	ch := s.group.DoChan("reconnect", func() (interface{}, error) {
		return s.reconnect(ctx), nil
	})
	select {
	case res := <-ch:
		ready, _ := res.Val.(bool)
		return ready
	case <-time.After(reconnectWaitMax):
		return s.IsReady(ctx)
	case <-ctx.Done():
		return false
	}
}

// reconnect forces a dial on whichever client isn't already connected and
// polls for readiness up to reconnectWaitMax. Errors from the forced ping
// are logged, never raised - the poll loop is the source of truth.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	for _, c := range []*redis.Client{s.normal, s.blocking} {
		if alreadyConnected(c) {
			continue
		}
		if err := c.Ping(ctx).Err(); err != nil {
			s.logger.Warn("reconnect attempt failed", slog.Any("error", err))
		}
	}
	deadline := time.Now().Add(reconnectWaitMax)
	for {
		if s.IsReady(ctx) {
			s.logger.Info("broker reconnect succeeded")
			return true
		}
		if time.Now().After(deadline) {
			s.logger.Error("broker reconnect did not achieve readiness within window")
			return false
		}
		time.Sleep(reconnectPollEvery)
	}
}

func alreadyConnected(c *redis.Client) bool {
	stats := c.PoolStats()
	return stats.TotalConns > 0 && stats.TotalConns > stats.StaleConns
}

// Close shuts down both connections, swallowing errors so shutdown is
// always clean.
func (s *Supervisor) Close() {
	_ = s.normal.Close()
	_ = s.blocking.Close()
}
