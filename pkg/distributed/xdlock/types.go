package xdlock

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type 锁类型，同时是分派表的键与存储键中的类型段。
type Type string

// 支持的锁类型
const (
	TypeSimple    Type = "simple"
	TypeSafe      Type = "safe"
	TypeReentrant Type = "reentrant"
	TypeRead      Type = "read"
	TypeWrite     Type = "write"
	TypeSemaphore Type = "semaphore"
	TypeFair      Type = "fair"
	TypeRedlock   Type = "redlock"
	TypeFencing   Type = "fencing"
	TypeStriped   Type = "striped"
	TypeMulti     Type = "multi"
	TypeWatchdog  Type = "watchdog"
	TypeLeased    Type = "leased"
)

// Types 返回所有锁类型
func Types() []Type {
	return []Type{
		TypeSimple, TypeSafe, TypeReentrant, TypeRead, TypeWrite, TypeSemaphore, TypeFair,
		TypeRedlock, TypeFencing, TypeStriped, TypeMulti, TypeWatchdog, TypeLeased,
	}
}

func (t Type) String() string {
	return string(t)
}

// ParseType 解析锁类型名，忽略大小写与首尾空白。
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, t := range Types() {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLockType, s)
}

// =============================================================================
// 锁接口
// =============================================================================

// Lock 所有锁类型的公共契约。
type Lock interface {
	// Acquire 单次非阻塞获取。
	// 返回 (false, nil) 表示锁被占用，error 只用于存储错误。
	Acquire(ctx context.Context) (bool, error)

	// Release 释放锁。
	// 句柄未持有时返回 (false, nil)；持有者不匹配时返回 ErrOwnershipViolation。
	Release(ctx context.Context) (bool, error)

	// IsAcquired 返回本地持有状态
	IsAcquired() bool

	// Owner 返回持有者标识
	Owner() string

	// Type 返回锁类型
	Type() Type

	// Key 返回逻辑 key，组合 key 以 ":" 连接
	Key() string

	// TTL 返回记录过期时间
	TTL() time.Duration
}

// Renewer 可续期的锁（watchdog、leased）。
type Renewer interface {
	Lock

	// Renew 校验持有者并刷新 TTL，成功时发出 Extended 事件。
	Renew(ctx context.Context) (bool, error)

	// RenewInterval 建议的续期间隔
	RenewInterval() time.Duration
}

// TokenHolder 持有 fencing token 的锁。
type TokenHolder interface {
	Lock

	// Token 最近一次成功获取时分配的 token，未获取时为 0。
	Token() int64
}

// PermitHolder 计数信号量。
type PermitHolder interface {
	Lock

	// Permits 许可上限
	Permits() int

	// AcquirePermits 每次 Acquire/Release 请求的许可数
	AcquirePermits() int

	// SetAcquirePermits 设置每次请求的许可数，n < 1 时忽略。
	SetAcquirePermits(n int)

	// Held 当前句柄持有的许可数
	Held() int
}

// Sharded 分片锁。
type Sharded interface {
	Lock

	// ShardIndex 逻辑 key 映射到的分片
	ShardIndex() int
}

// MultiKey 多资源锁。
type MultiKey interface {
	Lock

	// Keys 排序去重后的资源 key
	Keys() []string
}

// Queued 公平锁。
type Queued interface {
	Lock

	// Position 返回持有者在等待队列中的位置，不在队列中时返回 -1。
	Position(ctx context.Context) (int, error)

	// Leave 放弃等待，离开队列。
	Leave(ctx context.Context) (bool, error)
}
