package xdlock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFairLock(t *testing.T) {
	ctx := context.Background()

	t.Run("FIFOOrder", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeFair, "res", "a")
		b := f.newLock(t, TypeFair, "res", "b")
		c := f.newLock(t, TypeFair, "res", "c")

		mustAcquire(t, a)

		mustNotAcquire(t, b)
		assert.Equal(t, reasonQueued, f.sink.Last().Reason)
		mustNotAcquire(t, c)
		assert.Equal(t, reasonQueued, f.sink.Last().Reason)

		pos, err := b.(Queued).Position(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, pos)
		pos, err = c.(Queued).Position(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, pos)

		released, err := a.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)

		// 锁空闲，但 c 不在队首
		mustNotAcquire(t, c)
		assert.Equal(t, reasonWaitingInLine, f.sink.Last().Reason)

		mustAcquire(t, b)
		pos, err = b.(Queued).Position(ctx)
		require.NoError(t, err)
		assert.Equal(t, -1, pos)

		exists, err := f.store.Exists(ctx, "lock:fair:res:position:b")
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = b.Release(ctx)
		require.NoError(t, err)
		mustAcquire(t, c)

		exists, err = f.store.Exists(ctx, "lock:fair:res:queue")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("PositionRecorded", func(t *testing.T) {
		f := newFixture(t)
		mustAcquire(t, f.newLock(t, TypeFair, "res", "a"))
		mustNotAcquire(t, f.newLock(t, TypeFair, "res", "b"))
		mustNotAcquire(t, f.newLock(t, TypeFair, "res", "c"))

		v, found, err := f.store.Get(ctx, "lock:fair:res:position:c")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "1", v)
	})

	t.Run("LeaveUnblocksNext", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeFair, "res", "a")
		b := f.newLock(t, TypeFair, "res", "b")
		c := f.newLock(t, TypeFair, "res", "c")
		mustAcquire(t, a)
		mustNotAcquire(t, b)
		mustNotAcquire(t, c)
		_, err := a.Release(ctx)
		require.NoError(t, err)

		left, err := b.(Queued).Leave(ctx)
		require.NoError(t, err)
		assert.True(t, left)

		left, err = b.(Queued).Leave(ctx)
		require.NoError(t, err)
		assert.False(t, left)

		mustAcquire(t, c)
	})

	t.Run("ForeignReleaseIsOwnershipViolation", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeFair, "res", "a")
		mustAcquire(t, a)
		require.NoError(t, f.store.Set(ctx, "lock:fair:res", "intruder", 0))

		_, err := a.Release(ctx)
		require.ErrorIs(t, err, ErrOwnershipViolation)
	})
}
