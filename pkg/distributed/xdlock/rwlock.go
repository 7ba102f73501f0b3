package xdlock

import (
	"context"
	"slices"
)

// ReadWriteLock 读写锁，读模式与写模式共享 lock:readwrite:<k> 命名空间。
//
//   - 读：写锁存在时失败；否则递增 :read 计数并把持有者加入 :owners 列表
//   - 写：存在读者或写锁时失败；否则以持有者为值插入 :write 并加入 :owners 列表
//
// 获取后都会复查对方记录，发现冲突则回滚自己的写入。
// 不实现写者优先，持续的读者可以使写者饥饿。
type ReadWriteLock struct {
	base
	readKey  string
	writeKey string
	ownerKey string
}

var _ Lock = (*ReadWriteLock)(nil)

func newReadWriteLock(m meta) *ReadWriteLock {
	ns := namespace(m.typ)
	return &ReadWriteLock{
		base:     base{meta: m},
		readKey:  recordKey(ns, m.key, "read"),
		writeKey: recordKey(ns, m.key, "write"),
		ownerKey: recordKey(ns, m.key, "owners"),
	}
}

// Acquire 实现 Lock
func (l *ReadWriteLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if l.typ == TypeWrite {
		return l.acquireWrite(ctx)
	}
	return l.acquireRead(ctx)
}

// Release 实现 Lock
func (l *ReadWriteLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if !l.acquired {
		return false, nil
	}
	if l.typ == TypeWrite {
		return l.releaseWrite(ctx)
	}
	return l.releaseRead(ctx)
}

func (l *ReadWriteLock) acquireRead(ctx context.Context) (bool, error) {
	if l.acquired {
		exists, err := l.store.Exists(ctx, l.readKey)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
		l.acquired = false
	}

	writer, err := l.store.Exists(ctx, l.writeKey)
	if err != nil {
		return false, err
	}
	if writer {
		return l.fail(reasonWriteActive)
	}

	if _, err := l.store.Increment(ctx, l.readKey, 1, l.ttl); err != nil {
		return false, err
	}
	writer, err = l.store.Exists(ctx, l.writeKey)
	if err != nil || writer {
		if rerr := l.undoRead(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			return false, err
		}
		return l.fail(reasonWriteActive)
	}

	if _, err := updateList(ctx, l.store, l.ownerKey, l.ttl, func(owners []string) ([]string, bool) {
		return append(owners, l.owner), true
	}); err != nil {
		_ = l.undoRead(context.WithoutCancel(ctx)) //nolint:errcheck // 回滚尽力而为
		return false, err
	}

	l.markAcquired()
	return true, nil
}

// undoRead 撤销一次读计数
func (l *ReadWriteLock) undoRead(ctx context.Context) error {
	n, err := l.store.Decrement(ctx, l.readKey, 1, 0)
	if err != nil {
		return err
	}
	if n <= 0 {
		return dropCounter(ctx, l.store, l.readKey, n)
	}
	return nil
}

func (l *ReadWriteLock) releaseRead(ctx context.Context) (bool, error) {
	if _, err := updateList(ctx, l.store, l.ownerKey, l.ttl, func(owners []string) ([]string, bool) {
		return removeOne(owners, l.owner)
	}); err != nil {
		return false, err
	}
	if err := l.undoRead(ctx); err != nil {
		return false, err
	}
	l.markReleased()
	return true, nil
}

func (l *ReadWriteLock) acquireWrite(ctx context.Context) (bool, error) {
	if l.acquired {
		_, owned, err := l.owns(ctx, l.writeKey)
		if err != nil {
			return false, err
		}
		if owned {
			return true, nil
		}
		l.acquired = false
	}

	readers, err := readCount(ctx, l.store, l.readKey)
	if err != nil {
		return false, err
	}
	if readers > 0 {
		return l.fail(reasonReadActive)
	}

	inserted, err := l.store.InsertIfAbsent(ctx, l.writeKey, l.owner, l.ttl)
	if err != nil {
		return false, err
	}
	if !inserted {
		return l.fail(reasonWriteHeld)
	}

	readers, err = readCount(ctx, l.store, l.readKey)
	if err != nil || readers > 0 {
		_, _ = deleteIfValue(context.WithoutCancel(ctx), l.store, l.writeKey, l.owner) //nolint:errcheck // 回滚尽力而为
		if err != nil {
			return false, err
		}
		return l.fail(reasonReadActive)
	}

	if _, err := updateList(ctx, l.store, l.ownerKey, l.ttl, addOwner(l.owner)); err != nil {
		_, _ = deleteIfValue(context.WithoutCancel(ctx), l.store, l.writeKey, l.owner) //nolint:errcheck // 回滚尽力而为
		return false, err
	}

	l.markAcquired()
	return true, nil
}

// releaseWrite 先从 :owners 中移除自己，再比较删除写锁。
// 写锁删除后立即获取的读者已写入 :owners，不能整体删除该列表。
func (l *ReadWriteLock) releaseWrite(ctx context.Context) (bool, error) {
	if _, err := updateList(ctx, l.store, l.ownerKey, l.ttl, func(owners []string) ([]string, bool) {
		return removeOne(owners, l.owner)
	}); err != nil {
		return false, err
	}
	if err := l.releaseOwned(ctx, l.writeKey); err != nil {
		return false, err
	}
	l.markReleased()
	return true, nil
}

// addOwner 写者把自己加入 :owners，已存在时不重复写入
func addOwner(owner string) func([]string) ([]string, bool) {
	return func(owners []string) ([]string, bool) {
		if slices.Contains(owners, owner) {
			return owners, false
		}
		return append(owners, owner), true
	}
}

// Readers 返回当前读者数量
func (l *ReadWriteLock) Readers(ctx context.Context) (int64, error) {
	return readCount(ctx, l.store, l.readKey)
}

// Owners 返回当前记录在 :owners 中的持有者
func (l *ReadWriteLock) Owners(ctx context.Context) ([]string, error) {
	return readList(ctx, l.store, l.ownerKey)
}

func (l *ReadWriteLock) records() []string {
	if l.typ == TypeWrite {
		return []string{l.writeKey}
	}
	return []string{l.readKey}
}
