package xdlock

import (
	"context"
	"slices"
	"strconv"
)

// FairLock FIFO 公平锁。
//
// 等待队列以 JSON 数组保存在 lock:fair:<k>:queue，到达位置记录在
// :position:<owner>。只有队首且锁空闲时才能获取；排队者必须自行重复调用
// Acquire，释放不会通知下一位等待者。放弃等待时调用 Leave 离开队列，
// 否则队首会阻塞后续等待者直到队列 TTL 过期。
type FairLock struct {
	base
	record      string
	queueKey    string
	positionKey string
}

var _ Queued = (*FairLock)(nil)

func newFairLock(m meta) *FairLock {
	record := recordKey(namespace(TypeFair), m.key)
	return &FairLock{
		base:        base{meta: m},
		record:      record,
		queueKey:    record + ":queue",
		positionKey: record + ":position:" + m.owner,
	}
}

// Acquire 未在队列中时排到队尾；位于队首且锁空闲时出队并获取。
func (l *FairLock) Acquire(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	if l.acquired {
		_, owned, err := l.owns(ctx, l.record)
		if err != nil {
			return false, err
		}
		if owned {
			return true, nil
		}
		l.acquired = false
	}

	var (
		position int
		joined   bool
	)
	if _, err := updateList(ctx, l.store, l.queueKey, l.ttl, func(queue []string) ([]string, bool) {
		if i := slices.Index(queue, l.owner); i >= 0 {
			position, joined = i, false
			return queue, false
		}
		position, joined = len(queue), true
		return append(queue, l.owner), true
	}); err != nil {
		return false, err
	}

	waiting := reasonWaitingInLine
	if joined {
		waiting = reasonQueued
		if err := l.store.Set(ctx, l.positionKey, strconv.Itoa(position), l.ttl); err != nil {
			return false, err
		}
	}
	if position != 0 {
		return l.fail(waiting)
	}

	inserted, err := l.store.InsertIfAbsent(ctx, l.record, l.owner, l.ttl)
	if err != nil {
		return false, err
	}
	if !inserted {
		return l.fail(waiting)
	}

	if err := l.dequeue(ctx); err != nil {
		_, _ = deleteIfValue(context.WithoutCancel(ctx), l.store, l.record, l.owner) //nolint:errcheck // 回滚尽力而为
		return false, err
	}
	l.markAcquired()
	return true, nil
}

// Release 校验持有者后删除锁记录，队列保持不变。
func (l *FairLock) Release(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	return l.releaseExclusive(ctx, l.record)
}

// Leave 离开等待队列，返回是否曾在队列中。已持有锁时不影响持有状态。
func (l *FairLock) Leave(ctx context.Context) (bool, error) {
	l.lock()
	defer l.unlock(ctx)

	var removed bool
	if _, err := updateList(ctx, l.store, l.queueKey, l.ttl, func(queue []string) ([]string, bool) {
		queue, removed = removeOne(queue, l.owner)
		return queue, removed
	}); err != nil {
		return false, err
	}
	if _, err := l.store.Delete(ctx, l.positionKey); err != nil {
		return false, err
	}
	return removed, nil
}

// Position 实现 Queued
func (l *FairLock) Position(ctx context.Context) (int, error) {
	queue, err := readList(ctx, l.store, l.queueKey)
	if err != nil {
		return -1, err
	}
	return slices.Index(queue, l.owner), nil
}

// dequeue 从队列中移除自己并清理到达位置
func (l *FairLock) dequeue(ctx context.Context) error {
	if _, err := updateList(ctx, l.store, l.queueKey, l.ttl, func(queue []string) ([]string, bool) {
		return removeOne(queue, l.owner)
	}); err != nil {
		return err
	}
	_, err := l.store.Delete(ctx, l.positionKey)
	return err
}

func (l *FairLock) records() []string { return []string{l.record} }
