package xdlock

import (
	"context"
	"fmt"
)

// SemaphoreLock 计数信号量。
//
// 全局计数 lock:semaphore:<k>:count 与持有者计数 :owner:<owner> 共同记录许可。
// 获取先递增再校验，超出上限时补偿递减，所有持有者的许可之和不会超过上限。
// 同一句柄可多次获取，每次追加 AcquirePermits 个许可。
type SemaphoreLock struct {
	base
	countKey       string
	ownerKey       string
	permits        int
	acquirePermits int
	held           int
}

var _ PermitHolder = (*SemaphoreLock)(nil)

func newSemaphoreLock(m meta, cfg LockConfig) *SemaphoreLock {
	ns := namespace(TypeSemaphore)
	return &SemaphoreLock{
		base:           base{meta: m},
		countKey:       recordKey(ns, m.key, "count"),
		ownerKey:       recordKey(ns, m.key, "owner", m.owner),
		permits:        cfg.Permits,
		acquirePermits: cfg.AcquirePermits,
	}
}

// Acquire 请求 AcquirePermits 个许可
func (l *SemaphoreLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	req := int64(l.acquirePermits)
	limit := int64(l.permits)
	if req > limit {
		return l.fail(fmt.Sprintf("not enough permits available: requested %d, max %d", req, limit))
	}

	current, err := readCount(ctx, l.store, l.countKey)
	if err != nil {
		return false, err
	}
	if current+req > limit {
		return l.fail(fmt.Sprintf("not enough permits available: requested %d, available %d", req, max(0, limit-current)))
	}

	n, err := l.store.Increment(ctx, l.countKey, req, l.ttl)
	if err != nil {
		return false, err
	}
	if n > limit {
		if err := l.undo(context.WithoutCancel(ctx), l.countKey, req); err != nil {
			return false, err
		}
		return l.fail(fmt.Sprintf("not enough permits available: requested %d, available %d", req, max(0, limit-(n-req))))
	}

	if _, err := l.store.Increment(ctx, l.ownerKey, req, l.ttl); err != nil {
		_ = l.undo(context.WithoutCancel(ctx), l.countKey, req) //nolint:errcheck // 回滚尽力而为
		return false, err
	}

	l.held += int(req)
	if !l.acquired {
		l.markAcquired()
	}
	return true, nil
}

// Release 归还 AcquirePermits 个许可；句柄持有的许可全部归还后标记释放。
// 持有者计数少于请求数时返回 false。
func (l *SemaphoreLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	req := int64(l.acquirePermits)

	ownerPermits, err := readCount(ctx, l.store, l.ownerKey)
	if err != nil {
		return false, err
	}
	if ownerPermits <= 0 {
		// 记录已过期，许可已随 TTL 归还
		l.held = 0
		l.acquired = false
		return false, nil
	}
	if ownerPermits < req {
		return false, nil
	}

	if err := l.undo(ctx, l.ownerKey, req); err != nil {
		return false, err
	}
	if err := l.undo(ctx, l.countKey, req); err != nil {
		return false, err
	}

	l.held = max(0, l.held-int(req))
	if l.held == 0 {
		l.markReleased()
	}
	return true, nil
}

// undo 递减计数器，归零时删除。
func (l *SemaphoreLock) undo(ctx context.Context, key string, n int64) error {
	left, err := l.store.Decrement(ctx, key, n, 0)
	if err != nil {
		return err
	}
	if left <= 0 {
		return dropCounter(ctx, l.store, key, left)
	}
	return nil
}

// Permits 实现 PermitHolder
func (l *SemaphoreLock) Permits() int { return l.permits }

// AcquirePermits 实现 PermitHolder
func (l *SemaphoreLock) AcquirePermits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquirePermits
}

// SetAcquirePermits 实现 PermitHolder
func (l *SemaphoreLock) SetAcquirePermits(n int) {
	if n < 1 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquirePermits = n
}

// Held 实现 PermitHolder
func (l *SemaphoreLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// InUse 返回全局已占用的许可数
func (l *SemaphoreLock) InUse(ctx context.Context) (int64, error) {
	return readCount(ctx, l.store, l.countKey)
}

func (l *SemaphoreLock) records() []string { return []string{l.countKey} }
