package xdlock

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// StripedLock 分片锁：逻辑 key 经 xxhash64 取模映射到
// lock:striped:<k>:shard:<i>，再委托给该分片上的 simple 锁。
//
// 分片数必须在逻辑 key 的整个生命周期内保持不变，否则不同持有者会算出不同分片。
type StripedLock struct {
	base
	shards int
	index  int
	shard  *SimpleLock
}

var _ Sharded = (*StripedLock)(nil)

func newStripedLock(m meta, cfg LockConfig) *StripedLock {
	index := ShardIndex(m.key, cfg.ShardCount)
	record := recordKey(namespace(TypeStriped), m.key, "shard", strconv.Itoa(index))

	delegate := m
	delegate.typ = TypeSimple
	delegate.sink = NopSink{}
	return &StripedLock{
		base:   base{meta: m},
		shards: cfg.ShardCount,
		index:  index,
		shard:  newSimpleLock(delegate, record),
	}
}

// ShardIndex 返回 key 在 shards 个分片中的位置，shards < 1 时为 0。
func ShardIndex(key string, shards int) int {
	if shards < 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(shards))
}

// Acquire 实现 Lock
func (l *StripedLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	ok, err := l.shard.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		l.acquired = false
		return l.fail(reasonShard)
	}
	if !l.acquired {
		l.markAcquired()
	}
	return true, nil
}

// Release 实现 Lock
func (l *StripedLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	released, err := l.shard.Release(ctx)
	if err != nil {
		return false, err
	}
	l.markReleased()
	return released, nil
}

// ShardIndex 实现 Sharded
func (l *StripedLock) ShardIndex() int { return l.index }

// ShardCount 分片数
func (l *StripedLock) ShardCount() int { return l.shards }

func (l *StripedLock) records() []string { return l.shard.records() }
