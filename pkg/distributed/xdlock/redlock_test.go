package xdlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// redlockCluster N 个独立的 miniredis 节点
type redlockCluster struct {
	servers []*miniredis.Miniredis
	stores  []xstore.Store
}

func newRedlockCluster(t *testing.T, n int) *redlockCluster {
	t.Helper()
	c := &redlockCluster{}
	for range n {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)

		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })

		s, err := xstore.NewRedis(client)
		require.NoError(t, err)
		c.servers = append(c.servers, mr)
		c.stores = append(c.stores, s)
	}
	return c
}

func (c *redlockCluster) manager(t *testing.T, sink EventSink) *Manager {
	t.Helper()
	m, err := NewManager(c.stores[0], WithQuorumStores(c.stores...), WithEventSink(sink))
	require.NoError(t, err)
	return m
}

func (c *redlockCluster) holders(key string) int {
	n := 0
	for _, mr := range c.servers {
		if mr.Exists(key) {
			n++
		}
	}
	return n
}

func TestRedlock(t *testing.T) {
	ctx := context.Background()
	const record = "lock:redlock:order:1"

	t.Run("AcquireOnAllNodes", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		m := c.manager(t, nil)

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"), WithTTL(10*time.Second))
		require.NoError(t, err)
		mustAcquire(t, l)

		rl := l.(*Redlock)
		assert.Equal(t, 2, rl.Quorum())
		assert.Positive(t, rl.Validity())
		assert.Less(t, rl.Validity(), 10*time.Second-100*time.Millisecond)
		assert.Equal(t, 3, c.holders(record))

		locked, err := m.IsLocked(ctx, TypeRedlock, []string{"order", "1"})
		require.NoError(t, err)
		assert.True(t, locked)

		released, err := l.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, 0, c.holders(record))
	})

	t.Run("ReacquireWithinValidityIsLocal", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		clock := newFakeClock()
		m, err := NewManager(c.stores[0], WithQuorumStores(c.stores...), WithClock(clock.Now))
		require.NoError(t, err)

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"), WithTTL(10*time.Second))
		require.NoError(t, err)
		mustAcquire(t, l)

		for _, mr := range c.servers {
			mr.SetError("node down")
		}
		mustAcquire(t, l)

		clock.Advance(10 * time.Second)
		ok, err := l.Acquire(ctx)
		require.Error(t, err)
		assert.False(t, ok)
		assert.False(t, l.IsAcquired())
	})

	t.Run("QuorumOfTwo", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		m := c.manager(t, nil)
		require.NoError(t, c.servers[0].Set(record, "other"))

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"))
		require.NoError(t, err)
		mustAcquire(t, l)

		// 其它持有者的记录不会被释放删除
		_, err = l.Release(ctx)
		require.NoError(t, err)
		v, err := c.servers[0].Get(record)
		require.NoError(t, err)
		assert.Equal(t, "other", v)
	})

	t.Run("SingleNodeFailsAndRollsBack", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		sink := &recordingSink{}
		m := c.manager(t, sink)
		require.NoError(t, c.servers[0].Set(record, "other"))
		require.NoError(t, c.servers[1].Set(record, "other"))

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"))
		require.NoError(t, err)
		mustNotAcquire(t, l)
		assert.Contains(t, sink.Last().Reason, "failed to acquire quorum: acquired 1, required 2")

		assert.False(t, c.servers[2].Exists(record))
		v, err := c.servers[0].Get(record)
		require.NoError(t, err)
		assert.Equal(t, "other", v)
	})

	t.Run("NodeDownCountsAsNotAcquired", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		m := c.manager(t, nil)
		c.servers[2].Close()

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"))
		require.NoError(t, err)
		mustAcquire(t, l)
		assert.True(t, c.servers[0].Exists(record))
		assert.True(t, c.servers[1].Exists(record))
	})

	t.Run("AllNodesDownIsError", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		m := c.manager(t, nil)
		for _, mr := range c.servers {
			mr.Close()
		}

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"))
		require.NoError(t, err)
		ok, err := l.Acquire(ctx)
		assert.False(t, ok)
		require.Error(t, err)
	})

	t.Run("ExplicitQuorum", func(t *testing.T) {
		c := newRedlockCluster(t, 3)
		m := c.manager(t, nil)
		require.NoError(t, c.servers[0].Set(record, "other"))

		l, err := m.New(TypeRedlock, []string{"order", "1"}, WithOwner("o1"), WithQuorum(3))
		require.NoError(t, err)
		mustNotAcquire(t, l)
		assert.Equal(t, 1, c.holders(record))

		_, err = m.New(TypeRedlock, []string{"order", "1"}, WithQuorum(4))
		require.ErrorIs(t, err, ErrInvalidOption)
	})

	t.Run("UnsupportedWithoutCompareAndDelete", func(t *testing.T) {
		f := newFixture(t)
		m, err := NewManager(f.store, WithQuorumStores(plainStore{f.store}))
		require.NoError(t, err)

		assert.False(t, m.Supports(TypeRedlock))
		_, err = m.New(TypeRedlock, []string{"k"})
		require.ErrorIs(t, err, ErrUnsupportedLockType)
	})
}

// plainStore 只暴露 Store 接口，隐藏比较删除等能力
type plainStore struct {
	xstore.Store
}
