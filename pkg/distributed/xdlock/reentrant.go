package xdlock

import (
	"context"
)

// ReentrantLock 可重入锁。
//
// 同一持有者（相同 owner，可以是不同句柄）重复获取时递增
// lock:reentrant:<k>:owner:<owner> 计数，需要相同次数的 Release 才真正释放。
type ReentrantLock struct {
	base
	record  string
	counter string
}

var _ Lock = (*ReentrantLock)(nil)

func newReentrantLock(m meta) *ReentrantLock {
	record := recordKey(namespace(TypeReentrant), m.key)
	return &ReentrantLock{
		base:    base{meta: m},
		record:  record,
		counter: record + ":owner:" + m.owner,
	}
}

// Acquire 实现 Lock。重入不发出 Acquired 事件。
func (l *ReentrantLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	_, owned, err := l.owns(ctx, l.record)
	if err != nil {
		return false, err
	}
	if owned {
		if _, err := l.store.Increment(ctx, l.counter, 1, l.ttl); err != nil {
			return false, err
		}
		if _, err := l.renewOwned(ctx, l.record); err != nil {
			return false, err
		}
		if !l.acquired {
			l.acquired = true
			l.acquiredAt = l.now()
		}
		return true, nil
	}
	l.acquired = false

	inserted, err := l.store.InsertIfAbsent(ctx, l.record, l.owner, l.ttl)
	if err != nil {
		return false, err
	}
	if !inserted {
		return l.fail(reasonHeldByOther)
	}
	if err := l.store.Set(ctx, l.counter, "1", l.ttl); err != nil {
		_, _ = deleteIfValue(context.WithoutCancel(ctx), l.store, l.record, l.owner) //nolint:errcheck // 回滚尽力而为，记录会随 TTL 过期
		return false, err
	}
	l.markAcquired()
	return true, nil
}

// Release 递减重入计数，归零时删除锁记录与计数并标记释放；否则保持持有。
func (l *ReentrantLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	actual, owned, err := l.owns(ctx, l.record)
	if err != nil {
		return false, err
	}
	if !owned {
		return false, l.lose(l.record, actual)
	}

	n, err := l.store.Decrement(ctx, l.counter, 1, 0)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := dropCounter(ctx, l.store, l.counter, n); err != nil {
		return false, err
	}
	if _, err := deleteIfValue(ctx, l.store, l.record, l.owner); err != nil {
		return false, err
	}
	l.markReleased()
	return true, nil
}

// Depth 返回存储中当前持有者的重入深度
func (l *ReentrantLock) Depth(ctx context.Context) (int64, error) {
	return readCount(ctx, l.store, l.counter)
}

func (l *ReentrantLock) records() []string { return []string{l.record} }
