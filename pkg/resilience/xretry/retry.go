package xretry

import (
	"context"
	"time"
)

// RetryPolicy 判断失败后是否继续尝试。
//
// 通过 Retryer 使用时，Unrecoverable 错误会在 ShouldRetry 之前被拦截。
type RetryPolicy interface {
	// MaxAttempts 返回最大尝试次数（包含首次尝试），0 表示不限次数。
	MaxAttempts() int

	// ShouldRetry 在第 attempt 次失败（从 1 开始）后被调用。
	ShouldRetry(ctx context.Context, attempt int, err error) bool
}

// BackoffPolicy 计算两次尝试之间的等待时间。
type BackoffPolicy interface {
	// NextDelay 返回第 attempt 次失败（从 1 开始）后的等待时间。
	NextDelay(attempt int) time.Duration
}
