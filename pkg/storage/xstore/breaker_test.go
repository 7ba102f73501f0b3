package xstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnRefused = errors.New("dial tcp: connection refused")

// flakyStore 可切换为全部失败的存储
type flakyStore struct {
	Store
	down bool
}

func (f *flakyStore) InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.down {
		return false, errConnRefused
	}
	return f.Store.InsertIfAbsent(ctx, key, value, ttl)
}

// plainStore 只实现 Store，不具备任何可选能力
type plainStore struct {
	Store
}

func TestBreaker_TripsOnTransportErrors(t *testing.T) {
	ctx := context.Background()
	var transitions []gobreaker.State
	inner := &flakyStore{Store: NewMemory(), down: true}
	b := NewBreaker(inner,
		WithBreakerName("redlock-node-1"),
		WithConsecutiveFailures(3),
		WithOpenTimeout(time.Hour),
		WithStateChange(func(_ string, _, to gobreaker.State) { transitions = append(transitions, to) }),
	)

	for range 3 {
		_, err := b.InsertIfAbsent(ctx, "lock:redlock:a", "o", time.Second)
		assert.ErrorIs(t, err, errConnRefused)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	inner.down = false
	_, err := b.InsertIfAbsent(ctx, "lock:redlock:a", "o", time.Second)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "redlock-node-1")
}

func TestBreaker_ContentionIsNotFailure(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(NewMemory(), WithConsecutiveFailures(1))

	ok, err := b.InsertIfAbsent(ctx, "k", "o1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	for range 5 {
		ok, err = b.InsertIfAbsent(ctx, "k", "o2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	require.NoError(t, b.Set(ctx, "txt", "abc", 0))
	_, err = b.Increment(ctx, "txt", 1, 0)
	assert.ErrorIs(t, err, ErrNotInteger)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_CapabilityProbe(t *testing.T) {
	wrapped := NewBreaker(plainStore{Store: NewMemory()})

	_, ok := AsCompareAndDeleter(wrapped)
	assert.False(t, ok)
	_, ok = AsCompareAndSwapper(wrapped)
	assert.False(t, ok)

	_, err := wrapped.CompareAndDelete(context.Background(), "k", "v")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = wrapped.CompareAndSwap(context.Background(), "k", "", "v", 0)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, ok = AsCompareAndDeleter(NewBreaker(NewMemory()))
	assert.True(t, ok)
	_, ok = AsCompareAndDeleter(plainStore{Store: NewMemory()})
	assert.False(t, ok)
}
