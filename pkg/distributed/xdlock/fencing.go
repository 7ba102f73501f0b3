package xdlock

import (
	"context"
)

// FencingLock 按 safe 协议获取 lock:fencing:<k>，成功后递增 :token 计数并记录在句柄上。
//
// token 计数器没有 TTL，同一 key 的 token 单调递增且不会复用。
// 锁本身不校验 token，下游写入方应拒绝比已见过的更小的 token。
type FencingLock struct {
	base
	record   string
	tokenKey string
	token    int64
}

var _ TokenHolder = (*FencingLock)(nil)

func newFencingLock(m meta) *FencingLock {
	record := recordKey(namespace(TypeFencing), m.key)
	return &FencingLock{
		base:     base{meta: m},
		record:   record,
		tokenKey: record + ":token",
	}
}

// Acquire 实现 Lock
func (l *FencingLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	ok, fresh, err := l.tryExclusive(ctx, l.record)
	if !ok || !fresh {
		return ok, err
	}

	token, err := l.store.Increment(ctx, l.tokenKey, 1, 0)
	if err != nil {
		_, _ = deleteIfValue(context.WithoutCancel(ctx), l.store, l.record, l.owner) //nolint:errcheck // 回滚尽力而为
		return false, err
	}
	l.token = token
	l.markAcquired()
	return true, nil
}

// Release 实现 Lock，token 保留到下一次获取。
func (l *FencingLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	return l.releaseExclusive(ctx, l.record)
}

// Token 实现 TokenHolder
func (l *FencingLock) Token() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

func (l *FencingLock) records() []string { return []string{l.record} }
