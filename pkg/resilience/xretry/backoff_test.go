package xretry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("DefaultValues", func(t *testing.T) {
		b := NewExponentialBackoff()
		assert.InDelta(t, 100*time.Millisecond, b.NextDelay(1), float64(20*time.Millisecond))
		assert.InDelta(t, 200*time.Millisecond, b.NextDelay(2), float64(40*time.Millisecond))
	})

	t.Run("NoJitterDoublesUntilCap", func(t *testing.T) {
		b := NewExponentialBackoff(
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(time.Second),
			WithJitter(0),
		)

		assert.Equal(t, 10*time.Millisecond, b.NextDelay(1))
		assert.Equal(t, 20*time.Millisecond, b.NextDelay(2))
		assert.Equal(t, 640*time.Millisecond, b.NextDelay(7))
		assert.Equal(t, time.Second, b.NextDelay(8))
		assert.Equal(t, time.Second, b.NextDelay(math.MaxInt32))
	})

	t.Run("AdditiveJitterAddedAfterCap", func(t *testing.T) {
		b := NewExponentialBackoff(
			WithInitialDelay(10*time.Millisecond),
			WithMaxDelay(time.Second),
			WithJitter(0),
			WithMaxJitter(100*time.Millisecond),
		)

		for range 50 {
			d := b.NextDelay(20)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.Less(t, d, time.Second+100*time.Millisecond)
		}
	})

	t.Run("InvalidOptionsIgnored", func(t *testing.T) {
		b := NewExponentialBackoff(
			WithInitialDelay(-1),
			WithMaxDelay(0),
			WithMultiplier(0.5),
			WithJitter(5),
			WithMaxJitter(-time.Second),
		)

		assert.Equal(t, 100*time.Millisecond, b.initialDelay)
		assert.Equal(t, 30*time.Second, b.maxDelay)
		assert.InDelta(t, 2.0, b.multiplier, 0)
		assert.InDelta(t, 1.0, b.jitter, 0)
		assert.Equal(t, time.Duration(0), b.maxJitter)
	})

	t.Run("MaxBelowInitialRaised", func(t *testing.T) {
		b := NewExponentialBackoff(WithInitialDelay(time.Second), WithMaxDelay(time.Millisecond), WithJitter(0))
		assert.Equal(t, time.Second, b.NextDelay(1))
	})
}
