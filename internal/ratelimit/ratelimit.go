// Package ratelimit implements the sliding 1-hour window limiter: one
// global window and one per-agent window, pruned lazily on every check.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Alerter sends a best-effort alert message; failures are logged by the
// caller, never propagated.
type Alerter interface {
	Alert(ctx context.Context, chatID, message string) error
}

// Limiter tracks a global sliding window and one per agent.
type Limiter struct {
	mu sync.Mutex

	globalPerHour int
	agentPerHour  int
	window        time.Duration

	global []time.Time
	agents map[string][]time.Time

	alertChatID     string
	alertCooldown   time.Duration
	lastAlertAt     time.Time
	alerter         Alerter
	now             func() time.Time
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithAlerter sets the delivery collaborator used by SendAlert.
func WithAlerter(a Alerter) Option {
	return func(l *Limiter) { l.alerter = a }
}

// New creates a Limiter. Non-positive globalPerHour/agentPerHour fall back
// to the documented defaults (60/20); non-positive alertCooldown falls
// back to 300s.
func New(globalPerHour, agentPerHour int, alertChatID string, alertCooldown time.Duration, opts ...Option) *Limiter {
	if globalPerHour <= 0 {
		globalPerHour = 60
	}
	if agentPerHour <= 0 {
		agentPerHour = 20
	}
	if alertCooldown <= 0 {
		alertCooldown = 300 * time.Second
	}
	l := &Limiter{
		globalPerHour: globalPerHour,
		agentPerHour:  agentPerHour,
		window:        time.Hour,
		agents:        make(map[string][]time.Time),
		alertChatID:   alertChatID,
		alertCooldown: alertCooldown,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check prunes both windows and returns a non-empty localized message if
// the request should be denied, or "" if it is allowed.
func (l *Limiter) Check(agentID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.global = prune(l.global, now, l.window)
	l.agents[agentID] = prune(l.agents[agentID], now, l.window)

	if len(l.agents[agentID]) >= l.agentPerHour {
		return fmt.Sprintf("Limite de débit atteinte pour l'agent %s. Réessayez plus tard.", agentID)
	}
	if len(l.global) >= l.globalPerHour {
		return "Limite de débit globale atteinte. Réessayez plus tard."
	}
	return ""
}

// Record appends the current timestamp to both windows. Callers must only
// call Record after a successful Check for the same request.
func (l *Limiter) Record(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.global = append(l.global, now)
	l.agents[agentID] = append(l.agents[agentID], now)
}

// Stats returns the current global count and a map of agent id to window
// size, including only agents with a non-zero count.
func (l *Limiter) Stats() (int, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.global = prune(l.global, now, l.window)
	out := make(map[string]int)
	for agent, times := range l.agents {
		pruned := prune(times, now, l.window)
		l.agents[agent] = pruned
		if len(pruned) > 0 {
			out[agent] = len(pruned)
		}
	}
	return len(l.global), out
}

// SendAlert is best-effort and rate-limited by the configured cooldown: it
// never blocks or fails the hot path, and errors are logged rather than
// returned.
func (l *Limiter) SendAlert(ctx context.Context, reason, agentID string, logger *slog.Logger) {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastAlertAt) < l.alertCooldown {
		l.mu.Unlock()
		return
	}
	l.lastAlertAt = now
	alerter := l.alerter
	chatID := l.alertChatID
	l.mu.Unlock()

	if alerter == nil || chatID == "" {
		return
	}
	msg := fmt.Sprintf("Rate limit triggered: %s (agent=%s)", reason, agentID)
	if err := alerter.Alert(ctx, chatID, msg); err != nil {
		if logger != nil {
			logger.Warn("rate limit alert delivery failed", slog.Any("error", err))
		}
	}
}

func prune(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}
