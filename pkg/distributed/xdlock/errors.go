package xdlock

import (
	"errors"
	"fmt"
)

// 预定义错误。
// 使用 errors.Is 进行错误匹配，例如：
//
//	if errors.Is(err, xdlock.ErrAcquisitionFailed) {
//	    // 锁被占用
//	}
var (
	// ErrAcquisitionFailed 获取锁失败。
	// 记录已存在、未达到多数派或许可不足时返回此错误。
	ErrAcquisitionFailed = errors.New("xdlock: failed to acquire lock")

	// ErrAcquisitionTimedOut 阻塞获取超过截止时间。
	ErrAcquisitionTimedOut = errors.New("xdlock: timed out waiting for lock")

	// ErrOwnershipViolation 释放时发现存储记录不属于当前持有者。
	// 句柄仍会被标记为本地已释放，远端记录保持不变。
	ErrOwnershipViolation = errors.New("xdlock: lock is not owned by this owner")

	// ErrUnsupportedLockType 未知的锁类型，或当前存储不支持该类型。
	ErrUnsupportedLockType = errors.New("xdlock: unsupported lock type")

	// ErrEmptyKey 锁 key 为空。
	// key 为空字符串或仅含空白时返回此错误。
	ErrEmptyKey = errors.New("xdlock: key must not be empty")

	// ErrKeyTooLong 锁 key 超过长度限制。
	// 拼接后的逻辑 key 长度不能超过 maxKeyLength（512 字节）。
	ErrKeyTooLong = errors.New("xdlock: key exceeds maximum length of 512 bytes")

	// ErrInvalidOption 锁配置非法。
	ErrInvalidOption = errors.New("xdlock: invalid option")

	// ErrNilStore 存储为空。
	ErrNilStore = errors.New("xdlock: store is nil")

	// ErrContention 并发修改共享列表（公平队列、读者列表）冲突次数过多。
	ErrContention = errors.New("xdlock: too many concurrent updates")

	// ErrNilFunc Run 传入了 nil 临界区函数。
	ErrNilFunc = errors.New("xdlock: function is nil")
)

// OwnershipError 描述一次持有者不匹配的释放，errors.Is(err, ErrOwnershipViolation) 为真。
type OwnershipError struct {
	// Key 存储记录键
	Key string
	// Expected 本地持有者
	Expected string
	// Actual 存储中的持有者，记录不存在时为空
	Actual string
}

func (e *OwnershipError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("xdlock: lock is not owned by this owner: %s expired or deleted (owner %s)", e.Key, e.Expected)
	}
	return fmt.Sprintf("xdlock: lock is not owned by this owner: %s held by %s, not %s", e.Key, e.Actual, e.Expected)
}

func (e *OwnershipError) Unwrap() error {
	return ErrOwnershipViolation
}
