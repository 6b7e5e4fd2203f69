// Package outbound implements the delivery worker: a consumer-group reader
// over bridge:outbound that fans messages out through the delivery CLI,
// with oversize publishing, chunking, dead-lettering, and jittered
// exponential backoff on unexpected failure.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memohai/enginebridge/internal/config"
	"github.com/memohai/enginebridge/internal/deliverycli"
	"github.com/memohai/enginebridge/internal/splitter"
)

const (
	readCount        = 10
	blockDuration     = 5 * time.Second
	innerRetryBaseMs  = 3000
	outerBackoffStart = time.Second
	outerBackoffMax   = 60 * time.Second
	deadLetterMax     = 5
)

// streamer is the subset of *redis.Client the worker depends on, so tests
// can substitute a fake without a live Redis server.
type streamer interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
}

// Sender delivers one chunk through the gateway's CLI.
type Sender interface {
	Send(ctx context.Context, args deliverycli.SendArgs) error
}

// Worker consumes bridge:outbound as a named consumer in a named group.
type Worker struct {
	blocking streamer
	normal   streamer

	group    string
	consumer string

	publisher *splitter.Publisher
	sender    Sender
	logger    *slog.Logger

	running atomic.Bool
	done    chan struct{}

	rng func() float64

	// ackFn and pendingFn default to wrapping normal's XAck/XPendingExt;
	// tests substitute fakes here instead of implementing the full
	// streamer interface.
	ackFn     func(ctx context.Context, id string) error
	pendingFn func(ctx context.Context, id string) (redis.XPendingExt, bool, error)
}

// New builds a Worker. blocking must be reserved exclusively for this
// worker's blocking reads; normal handles acks and pending inspection.
func New(blocking, normal *redis.Client, group, consumer string, publisher *splitter.Publisher, sender Sender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		blocking:  blocking,
		normal:    normal,
		group:     group,
		consumer:  consumer,
		publisher: publisher,
		sender:    sender,
		logger:    logger.With(slog.String("component", "outbound-worker")),
		done:      make(chan struct{}),
		rng:       rand.Float64,
	}
	w.ackFn = func(ctx context.Context, id string) error {
		if err := normal.XAck(ctx, config.OutboundStream, group, id).Err(); err != nil {
			return fmt.Errorf("ack %s: %w", id, err)
		}
		return nil
	}
	w.pendingFn = func(ctx context.Context, id string) (redis.XPendingExt, bool, error) {
		res, err := normal.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: config.OutboundStream,
			Group:  group,
			Start:  id,
			End:    id,
			Count:  1,
		}).Result()
		if err != nil {
			return redis.XPendingExt{}, false, err
		}
		if len(res) == 0 {
			return redis.XPendingExt{}, false, nil
		}
		return res[0], true, nil
	}
	return w
}

// newForTest builds a Worker with injected sender/ack/pending seams, for
// tests that don't need a live or mocked Redis client.
func newForTest(sender Sender, logger *slog.Logger, ackFn func(context.Context, string) error, pendingFn func(context.Context, string) (redis.XPendingExt, bool, error)) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		group:     "test-group",
		consumer:  "test-consumer",
		sender:    sender,
		logger:    logger,
		done:      make(chan struct{}),
		rng:       rand.Float64,
		ackFn:     ackFn,
		pendingFn: pendingFn,
	}
}

// Start creates the consumer group (tolerating BUSYGROUP) and launches the
// resilient poll loop in the background.
func (w *Worker) Start(ctx context.Context) error {
	err := w.normal.XGroupCreateMkStream(ctx, config.OutboundStream, w.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("outbound: create consumer group: %w", err)
	}
	w.running.Store(true)
	go w.runOuterLoop(ctx)
	return nil
}

// Stop signals both loops to exit at their next yield point.
func (w *Worker) Stop(ctx context.Context) error {
	w.running.Store(false)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func (w *Worker) jitter() float64 {
	return 0.5 + 0.5*w.rng()
}

// runOuterLoop restarts runInnerLoop on unexpected termination, backing
// off from 1s up to 60s with jitter to avoid a thundering herd against the
// broker on reconnect.
func (w *Worker) runOuterLoop(ctx context.Context) {
	defer close(w.done)
	backoff := outerBackoffStart
	for w.running.Load() {
		if ctx.Err() != nil {
			return
		}
		w.runInnerLoop(ctx)
		if !w.running.Load() {
			return
		}
		delay := time.Duration(float64(backoff) * w.jitter())
		w.logger.Warn("outbound poll loop restarting", slog.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > outerBackoffMax {
			backoff = outerBackoffMax
		}
	}
}

// runInnerLoop reads and processes entries until a panic or cancellation
// ends it; ordinary read errors are logged and retried in place rather
// than exiting.
func (w *Worker) runInnerLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("outbound poll loop panicked", slog.Any("panic", r))
		}
	}()
	for w.running.Load() {
		if ctx.Err() != nil {
			return
		}
		if err := w.drainPending(ctx); err != nil {
			w.retryDelay(err)
			continue
		}
		if err := w.readNew(ctx); err != nil {
			w.retryDelay(err)
			continue
		}
	}
}

func (w *Worker) retryDelay(err error) {
	w.logger.Error("outbound read failed", slog.Any("error", err))
	delay := time.Duration(float64(innerRetryBaseMs)*w.jitter()) * time.Millisecond
	time.Sleep(delay)
}

// drainPending re-attempts delivery of entries already pending for this
// consumer (a prior crash or delivery error left them unacked).
func (w *Worker) drainPending(ctx context.Context) error {
	res, err := w.blocking.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{config.OutboundStream, "0"},
		Count:    readCount,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	w.processStreams(ctx, res)
	return nil
}

// readNew blocks for new entries never delivered to any consumer.
func (w *Worker) readNew(ctx context.Context) error {
	res, err := w.blocking.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{config.OutboundStream, ">"},
		Count:    readCount,
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	w.processStreams(ctx, res)
	return nil
}

func (w *Worker) processStreams(ctx context.Context, streams []redis.XStream) {
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := w.processEntry(ctx, msg); err != nil {
				w.logger.Error("outbound delivery failed, leaving unacked for redelivery",
					slog.String("id", msg.ID), slog.Any("error", err))
			}
		}
	}
}

type entryFields struct {
	agent     string
	channel   string
	to        string
	message   string
	accountID string
}

func parseEntry(values map[string]interface{}) entryFields {
	get := func(key string) string {
		v, ok := values[key]
		if !ok {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	return entryFields{
		agent:     get("agent"),
		channel:   get("channel"),
		to:        get("to"),
		message:   get("message"),
		accountID: get("accountId"),
	}
}

// processEntry implements §4.5 processEntry: malformed entries are warned
// and acked, entries past the dead-letter cap are dropped, otherwise the
// message is published/chunked and delivered chunk by chunk. Only a fully
// successful delivery is acknowledged.
func (w *Worker) processEntry(ctx context.Context, msg redis.XMessage) error {
	fields := parseEntry(msg.Values)
	if fields.message == "" || fields.to == "" || fields.channel == "" {
		w.logger.Warn("outbound entry malformed, dropping", slog.String("id", msg.ID), slog.String("agent", fields.agent))
		return w.ack(ctx, msg.ID)
	}

	if w.isDeadLetter(ctx, msg.ID) {
		w.logger.Error("Dead-lettering outbound entry after exceeding delivery attempts",
			slog.String("id", msg.ID), slog.String("agent", fields.agent))
		return w.ack(ctx, msg.ID)
	}

	outgoing := fields.message
	if w.publisher != nil && w.publisher.Enabled() && len([]rune(outgoing)) > splitter.PublishThreshold {
		if summary, err := w.publisher.Publish(ctx, outgoing); err == nil {
			outgoing = summary
		} else {
			w.logger.Warn("oversize publish failed, falling back to chunked delivery",
				slog.String("id", msg.ID), slog.Any("error", err))
		}
	}

	chunks := splitter.Split(outgoing, splitter.MaxMessageLen)
	for _, chunk := range chunks {
		err := w.sender.Send(ctx, deliverycli.SendArgs{
			Channel:   fields.channel,
			Target:    fields.to,
			Message:   chunk,
			AccountID: fields.accountID,
		})
		if err != nil {
			return fmt.Errorf("deliver chunk: %w", err)
		}
	}
	return w.ack(ctx, msg.ID)
}

// isDeadLetter best-effort inspects the pending list for this entry's
// delivery count. Per the open question on pending-inspection semantics,
// any error here is non-fatal: the worker proceeds to delivery rather than
// blocking on an ambiguous driver response.
func (w *Worker) isDeadLetter(ctx context.Context, id string) bool {
	pending, found, err := w.pendingFn(ctx, id)
	if err != nil {
		w.logger.Debug("pending inspection failed, proceeding to delivery", slog.Any("error", err))
		return false
	}
	if !found {
		return false
	}
	return pending.RetryCount > deadLetterMax
}

func (w *Worker) ack(ctx context.Context, id string) error {
	return w.ackFn(ctx, id)
}
