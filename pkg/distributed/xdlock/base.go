package xdlock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// 失败原因，出现在 Failed 事件中
const (
	reasonHeld          = "lock already held"
	reasonHeldByOther   = "lock already held by different owner"
	reasonOwnership     = "ownership violation"
	reasonWriteActive   = "write lock is active"
	reasonReadActive    = "read locks are active"
	reasonWriteHeld     = "write lock is already active"
	reasonQueued        = "added to queue, waiting for turn"
	reasonWaitingInLine = "already in queue, waiting for turn"
	reasonShard         = "shard lock acquisition failed"
)

// meta 句柄创建后不再变化的属性
type meta struct {
	store xstore.Store
	typ   Type
	key   string
	owner string
	ttl   time.Duration
	sink  EventSink
	now   func() time.Time
}

// base 所有锁类型共享的句柄状态与簿记。
//
// 导出方法在 mu 内执行，事件先进入 pending，unlock 时在锁外投递。
type base struct {
	meta

	mu         sync.Mutex
	pending    []Event
	acquired   bool
	acquiredAt time.Time
}

func newMeta(store xstore.Store, typ Type, key, owner string, ttl time.Duration, sink EventSink, now func() time.Time) meta {
	if sink == nil {
		sink = NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return meta{
		store: store,
		typ:   typ,
		key:   key,
		owner: owner,
		ttl:   ttl,
		sink:  sink,
		now:   now,
	}
}

func (b *base) lock() {
	b.mu.Lock()
}

// unlock 释放句柄锁并投递期间产生的事件。
func (b *base) unlock(ctx context.Context) {
	events := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, ev := range events {
		b.sink.Emit(ctx, ev)
	}
}

func (b *base) emit(ev Event) {
	ev.Key = b.key
	ev.Type = b.typ
	ev.Owner = b.owner
	ev.Time = b.now()
	b.pending = append(b.pending, ev)
}

func (b *base) markAcquired() {
	b.acquired = true
	b.acquiredAt = b.now()
	b.emit(Event{Kind: EventAcquired, TTL: b.ttl})
}

func (b *base) markReleased() {
	held := b.now().Sub(b.acquiredAt)
	b.acquired = false
	b.acquiredAt = time.Time{}
	b.emit(Event{Kind: EventReleased, HeldFor: held})
}

// fail 发出 Failed 事件并返回未获取。
func (b *base) fail(reason string) (bool, error) {
	b.emit(Event{Kind: EventFailed, Reason: reason})
	return false, nil
}

// lose 记录已不属于本持有者，本地标记为释放。
func (b *base) lose(key, actual string) error {
	b.acquired = false
	b.acquiredAt = time.Time{}
	b.emit(Event{Kind: EventFailed, Reason: reasonOwnership})
	return &OwnershipError{Key: key, Expected: b.owner, Actual: actual}
}

// IsAcquired 返回本地持有状态
func (b *base) IsAcquired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired
}

// Owner 返回持有者标识
func (b *base) Owner() string { return b.owner }

// Type 返回锁类型
func (b *base) Type() Type { return b.typ }

// Key 返回逻辑 key
func (b *base) Key() string { return b.key }

// TTL 返回记录过期时间
func (b *base) TTL() time.Duration { return b.ttl }

// =============================================================================
// 存储辅助函数
// =============================================================================

// owns 判断 key 当前是否由本持有者持有，返回存储中的值。
func (b *base) owns(ctx context.Context, key string) (string, bool, error) {
	v, found, err := b.store.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return v, v == b.owner, nil
}

// releaseOwned 按 safe 协议删除 key：先校验持有者，再比较删除。
// 持有者不匹配时返回 *OwnershipError，调用方负责之后的状态更新。
func (b *base) releaseOwned(ctx context.Context, key string) error {
	actual, owned, err := b.owns(ctx, key)
	if err != nil {
		return err
	}
	if !owned {
		return b.lose(key, actual)
	}
	deleted, err := deleteIfValue(ctx, b.store, key, b.owner)
	if err != nil {
		return err
	}
	if !deleted {
		return b.lose(key, "")
	}
	return nil
}

// renewOwned 校验持有者并刷新 key 的 TTL。
func (b *base) renewOwned(ctx context.Context, key string) (bool, error) {
	if cas, ok := xstore.AsCompareAndSwapper(b.store); ok {
		return cas.CompareAndSwap(ctx, key, b.owner, b.owner, b.ttl)
	}
	_, owned, err := b.owns(ctx, key)
	if err != nil || !owned {
		return false, err
	}
	if err := b.store.Set(ctx, key, b.owner, b.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// deleteIfValue 值匹配时删除，存储不支持比较删除时退化为直接删除。
func deleteIfValue(ctx context.Context, store xstore.Store, key, value string) (bool, error) {
	if cad, ok := xstore.AsCompareAndDeleter(store); ok {
		return cad.CompareAndDelete(ctx, key, value)
	}
	return store.Delete(ctx, key)
}

// readCount 读取计数器，不存在时为 0。
func readCount(ctx context.Context, store xstore.Store, key string) (int64, error) {
	v, found, err := store.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, xstore.ErrNotInteger
	}
	return n, nil
}

// dropCounter 计数器归零后删除，仅在值仍为 n 时删除，避免误删并发递增的结果。
func dropCounter(ctx context.Context, store xstore.Store, key string, n int64) error {
	_, err := deleteIfValue(ctx, store, key, strconv.FormatInt(n, 10))
	return err
}
