package xdlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleLock(t *testing.T) {
	ctx := context.Background()

	t.Run("SecondHandleFailsUntilRelease", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSimple, "k", "o1")
		b := f.newLock(t, TypeSimple, "k", "o2")

		mustAcquire(t, a)
		mustNotAcquire(t, b)
		assert.True(t, a.IsAcquired())
		assert.False(t, b.IsAcquired())

		released, err := a.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		assert.False(t, a.IsAcquired())

		mustAcquire(t, b)
	})

	t.Run("RecordShape", func(t *testing.T) {
		f := newFixture(t)
		mustAcquire(t, f.newLock(t, TypeSimple, "k", "o1", WithTTL(5*time.Second)))

		v, found, err := f.store.Get(ctx, "lock:simple:k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "1", v)
	})

	t.Run("ReleaseDeletesWithoutOwnerCheck", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSimple, "k", "o1")
		mustAcquire(t, a)

		// 记录过期后被别人获取，simple 释放仍会删除它
		f.clock.Advance(DefaultTTL + time.Second)
		b := f.newLock(t, TypeSimple, "k", "o2")
		mustAcquire(t, b)

		released, err := a.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)

		exists, err := f.store.Exists(ctx, "lock:simple:k")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ReleaseWithoutAcquire", func(t *testing.T) {
		f := newFixture(t)
		released, err := f.newLock(t, TypeSimple, "k", "o1").Release(ctx)
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("AcquireReconcilesWithStore", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSimple, "k", "o1")
		mustAcquire(t, a)
		mustAcquire(t, a)

		// 记录过期后重新插入，并再次发出 Acquired
		f.clock.Advance(DefaultTTL + time.Second)
		mustAcquire(t, a)
		assert.Equal(t, []EventKind{EventAcquired, EventAcquired}, f.sink.Kinds())
	})

	t.Run("Events", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSimple, "k", "o1")
		b := f.newLock(t, TypeSimple, "k", "o2")

		mustAcquire(t, a)
		mustNotAcquire(t, b)
		f.clock.Advance(3 * time.Second)
		_, err := a.Release(ctx)
		require.NoError(t, err)

		events := f.sink.Events()
		require.Len(t, events, 3)
		assert.Equal(t, EventAcquired, events[0].Kind)
		assert.Equal(t, DefaultTTL, events[0].TTL)
		assert.Equal(t, "o1", events[0].Owner)
		assert.Equal(t, EventFailed, events[1].Kind)
		assert.Equal(t, reasonHeld, events[1].Reason)
		assert.Equal(t, EventReleased, events[2].Kind)
		assert.Equal(t, 3*time.Second, events[2].HeldFor)
		assert.Equal(t, TypeSimple, events[2].Type)
		assert.Equal(t, "k", events[2].Key)
	})
}

func TestSafeLock(t *testing.T) {
	ctx := context.Background()

	t.Run("OwnerStored", func(t *testing.T) {
		f := newFixture(t)
		mustAcquire(t, f.newLock(t, TypeSafe, "k", "o1"))

		v, _, err := f.store.Get(ctx, "lock:safe:k")
		require.NoError(t, err)
		assert.Equal(t, "o1", v)
	})

	t.Run("ForeignReleaseIsOwnershipViolation", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSafe, "k", "o1")
		mustAcquire(t, a)

		// 记录过期后由 o2 获取，o1 的释放不得删除 o2 的记录
		f.clock.Advance(DefaultTTL + time.Second)
		b := f.newLock(t, TypeSafe, "k", "o2")
		mustAcquire(t, b)

		released, err := a.Release(ctx)
		assert.False(t, released)
		require.ErrorIs(t, err, ErrOwnershipViolation)

		var oe *OwnershipError
		require.True(t, errors.As(err, &oe))
		assert.Equal(t, "lock:safe:k", oe.Key)
		assert.Equal(t, "o1", oe.Expected)
		assert.Equal(t, "o2", oe.Actual)
		assert.False(t, a.IsAcquired())

		v, found, err := f.store.Get(ctx, "lock:safe:k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "o2", v)

		last := f.sink.Last()
		assert.Equal(t, EventFailed, last.Kind)
		assert.Equal(t, reasonOwnership, last.Reason)
	})

	t.Run("ExpiredRecordReleaseIsOwnershipViolation", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSafe, "k", "o1", WithTTL(time.Second))
		mustAcquire(t, a)
		f.clock.Advance(2 * time.Second)

		_, err := a.Release(ctx)
		require.ErrorIs(t, err, ErrOwnershipViolation)
	})

	t.Run("SameOwnerDifferentHandles", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSafe, "k", "o1")
		b := f.newLock(t, TypeSafe, "k", "o1")
		mustAcquire(t, a)

		// 相同 owner 的新句柄不会重入 safe 锁
		mustNotAcquire(t, b)
	})

	t.Run("ReleaseThenReacquire", func(t *testing.T) {
		f := newFixture(t)
		a := f.newLock(t, TypeSafe, "k", "o1")
		b := f.newLock(t, TypeSafe, "k", "o2")
		mustAcquire(t, a)
		released, err := a.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		mustAcquire(t, b)
	})
}
