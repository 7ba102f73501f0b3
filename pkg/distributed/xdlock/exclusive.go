package xdlock

import (
	"context"
)

// =============================================================================
// Simple
// =============================================================================

// simpleMarker simple 锁写入的固定值
const simpleMarker = "1"

// SimpleLock 最简单的互斥锁：记录值为固定标记，释放时不校验持有者。
//
// 适用于代价低、可容忍误释放的场景。
type SimpleLock struct {
	base
	record string
}

var _ Lock = (*SimpleLock)(nil)

func newSimpleLock(m meta, record string) *SimpleLock {
	return &SimpleLock{base: base{meta: m}, record: record}
}

// Acquire 实现 Lock
func (l *SimpleLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if l.acquired {
		exists, err := l.store.Exists(ctx, l.record)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
		l.acquired = false
	}

	ok, err := l.store.InsertIfAbsent(ctx, l.record, simpleMarker, l.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return l.fail(reasonHeld)
	}
	l.markAcquired()
	return true, nil
}

// Release 无条件删除记录，返回记录是否仍然存在。
func (l *SimpleLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	deleted, err := l.store.Delete(ctx, l.record)
	if err != nil {
		return false, err
	}
	l.markReleased()
	return deleted, nil
}

func (l *SimpleLock) records() []string { return []string{l.record} }

// =============================================================================
// Safe
// =============================================================================

// SafeLock 记录值为持有者的互斥锁，释放时校验持有者。
type SafeLock struct {
	base
	record string
}

var _ Lock = (*SafeLock)(nil)

func newSafeLock(m meta) *SafeLock {
	return &SafeLock{base: base{meta: m}, record: recordKey(namespace(TypeSafe), m.key)}
}

// Acquire 实现 Lock
func (l *SafeLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	ok, fresh, err := l.tryExclusive(ctx, l.record)
	if ok && fresh {
		l.markAcquired()
	}
	return ok, err
}

// Release 校验持有者后删除记录。
// 持有者不匹配时返回 ErrOwnershipViolation，记录保持不变，句柄标记为已释放。
func (l *SafeLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	return l.releaseExclusive(ctx, l.record)
}

func (l *SafeLock) records() []string { return []string{l.record} }

// =============================================================================
// safe 协议辅助函数（safe、fencing、watchdog、leased、fair 共用）
// =============================================================================

// tryExclusive 以持有者为值插入 record。
// 句柄已持有且记录仍属于本持有者时返回 ok=true、fresh=false；
// 新获取时 fresh=true，由调用方完成 markAcquired。
func (b *base) tryExclusive(ctx context.Context, record string) (ok, fresh bool, err error) {
	if b.acquired {
		_, owned, err := b.owns(ctx, record)
		if err != nil {
			return false, false, err
		}
		if owned {
			return true, false, nil
		}
		b.acquired = false
	}

	inserted, err := b.store.InsertIfAbsent(ctx, record, b.owner, b.ttl)
	if err != nil {
		return false, false, err
	}
	if !inserted {
		_, err := b.fail(reasonHeld)
		return false, false, err
	}
	return true, true, nil
}

// releaseExclusive safe 协议释放。
func (b *base) releaseExclusive(ctx context.Context, record string) (bool, error) {
	if !b.acquired {
		return false, nil
	}
	if err := b.releaseOwned(ctx, record); err != nil {
		return false, err
	}
	b.markReleased()
	return true, nil
}
