package xretry

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// Retryer 组合 RetryPolicy 与 BackoffPolicy 的重试执行器，底层使用 retry-go。
type Retryer struct {
	retryPolicy   RetryPolicy
	backoffPolicy BackoffPolicy
	onRetry       func(attempt int, err error)
}

// RetryerOption 执行器配置选项
type RetryerOption func(*Retryer)

// WithRetryPolicy 设置重试策略，nil 被忽略。
func WithRetryPolicy(p RetryPolicy) RetryerOption {
	return func(r *Retryer) {
		if p != nil {
			r.retryPolicy = p
		}
	}
}

// WithBackoffPolicy 设置退避策略，nil 被忽略。
func WithBackoffPolicy(p BackoffPolicy) RetryerOption {
	return func(r *Retryer) {
		if p != nil {
			r.backoffPolicy = p
		}
	}
}

// WithOnRetry 设置每次失败后的回调，attempt 从 1 开始，nil 被忽略。
func WithOnRetry(f func(attempt int, err error)) RetryerOption {
	return func(r *Retryer) {
		if f != nil {
			r.onRetry = f
		}
	}
}

// NewRetryer 创建重试执行器，默认 FixedRetry(3) + ExponentialBackoff。
func NewRetryer(opts ...RetryerOption) *Retryer {
	r := &Retryer{
		retryPolicy:   NewFixedRetry(3),
		backoffPolicy: NewExponentialBackoff(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do 执行 fn 直到成功、策略放弃或 ctx 结束，只返回最后一个错误。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil {
		return ErrNilRetryer
	}
	if ctx == nil {
		return ErrNilContext
	}
	if fn == nil {
		return ErrNilFunc
	}
	return retry.New(r.buildOptions(ctx)...).Do(func() error {
		return fn(ctx)
	})
}

// RetryPolicy 返回当前重试策略
func (r *Retryer) RetryPolicy() RetryPolicy { return r.retryPolicy }

// BackoffPolicy 返回当前退避策略
func (r *Retryer) BackoffPolicy() BackoffPolicy { return r.backoffPolicy }

func (r *Retryer) buildOptions(ctx context.Context) []Option {
	opts := make([]Option, 0, 6)
	opts = append(opts, Context(ctx))

	if maxAttempts := r.retryPolicy.MaxAttempts(); maxAttempts <= 0 {
		opts = append(opts, UntilSucceeded())
	} else {
		opts = append(opts, Attempts(uint(maxAttempts)))
	}

	// attemptCount 为已失败次数（从 1 开始），与 ShouldRetry 的 attempt 语义一致。
	var attemptCount atomic.Int64
	policy := r.retryPolicy
	opts = append(opts, RetryIf(func(err error) bool {
		count := int(attemptCount.Add(1))
		if !IsRecoverable(err) {
			return false
		}
		return policy.ShouldRetry(ctx, count, err)
	}))

	// retry-go v5 中 DelayType 的 n 从 1 开始。
	backoff := r.backoffPolicy
	opts = append(opts, DelayType(func(n uint, _ error, _ DelayContext) time.Duration {
		return backoff.NextDelay(clampToInt(n))
	}))

	// retry-go v5 中 OnRetry 的 n 从 0 开始。
	if r.onRetry != nil {
		onRetry := r.onRetry
		opts = append(opts, OnRetry(func(n uint, err error) {
			onRetry(clampToInt(n)+1, err)
		}))
	}

	return append(opts, LastErrorOnly(true))
}

func clampToInt(n uint) int {
	if n > uint(math.MaxInt) {
		return math.MaxInt
	}
	return int(n)
}
