package xdlock

import (
	"context"
	"time"
)

// LeasedLock 带本地租约的 safe 锁，记录为 lock:leased:<k>。
//
// 租约到期后 IsAcquired 立即返回 false，无需访问存储。
// Renew 只在租约仍然有效时刷新记录 TTL 并顺延租约。
type LeasedLock struct {
	base
	record    string
	interval  time.Duration
	expiresAt time.Time
}

var _ Renewer = (*LeasedLock)(nil)

func newLeasedLock(m meta, cfg LockConfig) *LeasedLock {
	return &LeasedLock{
		base:     base{meta: m},
		record:   recordKey(namespace(TypeLeased), m.key),
		interval: cfg.renewInterval(),
	}
}

// valid 租约是否仍然有效，调用方持有 mu。
func (l *LeasedLock) valid() bool {
	if !l.acquired {
		return false
	}
	if !l.now().Before(l.expiresAt) {
		l.acquired = false
		l.expiresAt = time.Time{}
		return false
	}
	return true
}

// IsAcquired 租约到期后返回 false
func (l *LeasedLock) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valid()
}

// Acquire 实现 Lock
func (l *LeasedLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	l.valid()
	ok, fresh, err := l.tryExclusive(ctx, l.record)
	if !ok || !fresh {
		return ok, err
	}
	l.expiresAt = l.now().Add(l.ttl)
	l.markAcquired()
	return true, nil
}

// Renew 租约有效时刷新记录并顺延租约。
func (l *LeasedLock) Renew(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.valid() {
		return false, nil
	}
	renewed, err := l.renewOwned(ctx, l.record)
	if err != nil {
		return false, err
	}
	if !renewed {
		l.expiresAt = time.Time{}
		_ = l.lose(l.record, "") //nolint:errcheck // 续期失败以返回值表达
		return false, nil
	}
	l.expiresAt = l.now().Add(l.ttl)
	l.emit(Event{Kind: EventExtended, AdditionalTTL: l.ttl})
	return true, nil
}

// Release 实现 Lock，租约已过期时只清理本地状态。
func (l *LeasedLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.valid() {
		return false, nil
	}
	l.expiresAt = time.Time{}
	return l.releaseExclusive(ctx, l.record)
}

// ExpiresAt 返回本地租约到期时间，未持有时为零值。
func (l *LeasedLock) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt
}

// RenewInterval 实现 Renewer
func (l *LeasedLock) RenewInterval() time.Duration { return l.interval }

func (l *LeasedLock) records() []string { return []string{l.record} }
