package xdlock

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// MultiLock 多资源锁。
//
// key 按字典序排序去重后依次获取各自的 safe 锁（lock:safe:<k>），
// 任一失败时按相反顺序回滚已获取的锁。全局一致的获取顺序避免循环等待；
// 绕过排序自行按其它顺序加锁的调用方会破坏这一保证。
// 这不是事务：回滚期间其它持有者可能短暂观察到部分 key 被占用。
type MultiLock struct {
	base
	keys []string
	held []*SafeLock
}

var _ MultiKey = (*MultiLock)(nil)

// newMultiLock keys 必须已排序去重
func newMultiLock(m meta, keys []string) *MultiLock {
	return &MultiLock{base: base{meta: m}, keys: keys}
}

// multiKey 多资源锁的逻辑 key
func multiKey(keys []string) string {
	return strings.Join(keys, ",")
}

// child 创建子锁，子锁事件并入本句柄的待投递事件。
func (l *MultiLock) child(key string) *SafeLock {
	m := l.meta
	m.typ = TypeSafe
	m.key = key
	m.sink = EventSinkFunc(func(_ context.Context, ev Event) {
		l.pending = append(l.pending, ev)
	})
	return newSafeLock(m)
}

// Acquire 依次获取所有 key，全部成功才返回 true。
// 句柄已持有时逐个校验子锁记录；任一记录已不属于本持有者时，
// 回滚仍持有的子锁后重新按顺序获取。
func (l *MultiLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if l.acquired {
		intact, err := l.stillHeld(ctx)
		if err != nil {
			return false, err
		}
		if intact {
			return true, nil
		}
		l.rollback(context.WithoutCancel(ctx))
		l.acquired = false
		l.acquiredAt = time.Time{}
	}

	for _, key := range l.keys {
		c := l.child(key)
		ok, err := c.Acquire(ctx)
		if err != nil || !ok {
			l.rollback(context.WithoutCancel(ctx))
			if err != nil {
				return false, err
			}
			return l.fail("failed to acquire lock for key: " + key)
		}
		l.held = append(l.held, c)
	}

	l.markAcquired()
	return true, nil
}

// Release 按获取的相反顺序释放所有子锁，全部成功释放才返回 true。
// 句柄总是被标记为已释放，子锁错误合并返回。
func (l *MultiLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}

	all := true
	var errs []error
	for _, c := range slices.Backward(l.held) {
		ok, err := c.Release(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			all = false
		}
	}
	l.held = nil
	l.markReleased()
	return all, errors.Join(errs...)
}

// stillHeld 检查所有子锁记录是否仍属于本持有者
func (l *MultiLock) stillHeld(ctx context.Context) (bool, error) {
	if len(l.held) != len(l.keys) {
		return false, nil
	}
	for _, c := range l.held {
		_, owned, err := l.owns(ctx, c.record)
		if err != nil {
			return false, err
		}
		if !owned {
			return false, nil
		}
	}
	return true, nil
}

// rollback 释放已获取的子锁，错误被忽略，记录最终会随 TTL 过期。
func (l *MultiLock) rollback(ctx context.Context) {
	for _, c := range slices.Backward(l.held) {
		_, _ = c.Release(ctx) //nolint:errcheck // 回滚尽力而为
	}
	l.held = nil
}

// Keys 实现 MultiKey
func (l *MultiLock) Keys() []string {
	return slices.Clone(l.keys)
}

func (l *MultiLock) records() []string {
	out := make([]string, len(l.keys))
	for i, k := range l.keys {
		out[i] = recordKey(namespace(TypeSafe), k)
	}
	return out
}
