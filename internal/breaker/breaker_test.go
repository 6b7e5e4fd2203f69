package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/enginebridge/internal/breaker"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestClosedByDefault(t *testing.T) {
	b := breaker.New(5, 15*time.Second)
	assert.Equal(t, breaker.Closed, b.State())
	assert.False(t, b.IsOpen())
}

func TestOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := breaker.New(3, 15*time.Second, breaker.WithClock(clock.now))
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, breaker.Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())
}

func TestHalfOpenAfterCooldownThenRecloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := breaker.New(2, 10*time.Second, breaker.WithClock(clock.now))
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.State())

	clock.advance(10 * time.Second)
	assert.Equal(t, breaker.HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestFailureWhileHalfOpenReopensWithFreshCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := breaker.New(2, 10*time.Second, breaker.WithClock(clock.now))
	b.RecordFailure()
	b.RecordFailure()
	clock.advance(10 * time.Second)
	require.Equal(t, breaker.HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())

	clock.advance(9 * time.Second)
	assert.Equal(t, breaker.Open, b.State())

	clock.advance(1 * time.Second)
	assert.Equal(t, breaker.HalfOpen, b.State())
}

func TestSuccessFromOpenCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := breaker.New(1, 10*time.Second, breaker.WithClock(clock.now))
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.State())
	b.RecordSuccess()
	assert.Equal(t, breaker.Closed, b.State())
}
