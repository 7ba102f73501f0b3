package xstore

import (
	"context"
	"time"
)

// Store 原子键值存储契约。
//
// 每个方法对单个键是原子的，且依赖后端自身的 TTL 过期机制。
// 锁协议只通过这些调用在进程间通信，不做任何 check-then-act。
//
// TTL 约定：
//   - InsertIfAbsent/Set：ttl <= 0 表示永不过期
//   - Increment/Decrement：ttl > 0 在同一原子步骤内刷新过期时间，0 保持原有过期时间
type Store interface {
	// InsertIfAbsent 键不存在时写入，返回是否写入成功。
	InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get 读取键值，found 为 false 表示键不存在或已过期。
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set 无条件写入。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Increment 原子加 delta 并返回新值，不存在的键按 0 处理。
	// 已有值不是整数时返回 ErrNotInteger。
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Decrement 原子减 delta 并返回新值，语义同 Increment。
	Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Delete 删除键，返回键删除前是否存在。
	Delete(ctx context.Context, key string) (bool, error)

	// Exists 检查键是否存在。
	Exists(ctx context.Context, key string) (bool, error)
}

// CompareAndDeleter 比较删除能力：仅当存储值等于 value 时删除。
//
// Redlock 释放依赖此能力；所有权校验型锁在后端支持时用它关闭 get/delete 之间的窗口。
type CompareAndDeleter interface {
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// CompareAndSwapper 比较交换能力：仅当存储值等于 old 时替换为 new。
//
// old 为空串表示要求键不存在。ttl 语义同 Set。
// 公平队列、读者列表的乐观更新以及看门狗续期（old == new）使用此能力。
type CompareAndSwapper interface {
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)
}

// unwrapper 由装饰器实现，用于能力探测时穿透到底层存储。
type unwrapper interface {
	Unwrap() Store
}

// AsCompareAndDeleter 探测 s 是否真正具备比较删除能力。
//
// 装饰器（如 Breaker）总是声明该方法，因此需要递归检查被装饰的存储。
func AsCompareAndDeleter(s Store) (CompareAndDeleter, bool) {
	cad, ok := s.(CompareAndDeleter)
	if !ok {
		return nil, false
	}
	if u, ok := s.(unwrapper); ok {
		if _, ok := AsCompareAndDeleter(u.Unwrap()); !ok {
			return nil, false
		}
	}
	return cad, true
}

// AsCompareAndSwapper 探测 s 是否真正具备比较交换能力。
func AsCompareAndSwapper(s Store) (CompareAndSwapper, bool) {
	cas, ok := s.(CompareAndSwapper)
	if !ok {
		return nil, false
	}
	if u, ok := s.(unwrapper); ok {
		if _, ok := AsCompareAndSwapper(u.Unwrap()); !ok {
			return nil, false
		}
	}
	return cas, true
}
