package xdlock

import (
	"context"
	"time"
)

// WatchdogLock 按 safe 协议持有 lock:watchdog:<k>，由外部监督者周期调用 Renew 刷新 TTL。
//
// 句柄本身不启动 goroutine；xcron.Supervisor 负责按 RenewInterval 调度续期。
// 续期发现记录已不属于本持有者时，句柄标记为失去锁并停止续期。
type WatchdogLock struct {
	base
	record   string
	interval time.Duration
	armed    bool
}

var _ Renewer = (*WatchdogLock)(nil)

func newWatchdogLock(m meta, cfg LockConfig) *WatchdogLock {
	return &WatchdogLock{
		base:     base{meta: m},
		record:   recordKey(namespace(TypeWatchdog), m.key),
		interval: cfg.renewInterval(),
	}
}

// Acquire 实现 Lock，成功后启用续期。
func (l *WatchdogLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	ok, fresh, err := l.tryExclusive(ctx, l.record)
	if !ok {
		l.armed = false
		return false, err
	}
	if fresh {
		l.markAcquired()
	}
	l.armed = true
	return true, nil
}

// Release 实现 Lock，先停止续期再释放。
func (l *WatchdogLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	l.armed = false
	return l.releaseExclusive(ctx, l.record)
}

// Renew 刷新记录 TTL。
// 句柄未持有或已停止续期时返回 false；记录已不属于本持有者时句柄失去锁。
func (l *WatchdogLock) Renew(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired || !l.armed {
		return false, nil
	}
	renewed, err := l.renewOwned(ctx, l.record)
	if err != nil {
		return false, err
	}
	if !renewed {
		l.armed = false
		_ = l.lose(l.record, "") //nolint:errcheck // 续期失败以返回值表达
		return false, nil
	}
	l.emit(Event{Kind: EventExtended, AdditionalTTL: l.ttl})
	return true, nil
}

// RenewInterval 实现 Renewer
func (l *WatchdogLock) RenewInterval() time.Duration { return l.interval }

func (l *WatchdogLock) records() []string { return []string{l.record} }
