package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock, tripped *[]string) *CircuitBreaker {
	return NewCircuitBreaker("transfers", true, 3, time.Minute, 5*time.Minute,
		WithClock(clock.now),
		WithTripHook(func(name string) { *tripped = append(*tripped, name) }),
	)
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var tripped []string
	cb := newTestBreaker(clock, &tripped)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
	require.Equal(t, []string{"transfers"}, tripped)

	state := cb.GetState()
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.FailureCount)
	assert.Equal(t, 1, state.Trips)
	assert.Equal(t, clock.t, state.TripTime)
}

func TestCircuitBreaker_FailuresOutsideWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var tripped []string
	cb := newTestBreaker(clock, &tripped)

	cb.RecordFailure()
	cb.RecordFailure()
	clock.advance(2 * time.Minute)

	assert.False(t, cb.RecordFailure(), "old failures fall out of the window")
	assert.False(t, cb.IsOpen())
	assert.Empty(t, tripped)
}

func TestCircuitBreaker_ResetsAfterTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var tripped []string
	cb := newTestBreaker(clock, &tripped)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.True(t, cb.IsOpen())

	clock.advance(4 * time.Minute)
	assert.True(t, cb.IsOpen())

	clock.advance(2 * time.Minute)
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreaker_ManualResetAndSuccess(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var tripped []string
	cb := newTestBreaker(clock, &tripped)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure(), "success clears the count")

	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())
	cb.Reset()
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker("transfers", false, 1, time.Minute, time.Minute)
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsEnabled())
}
