package xstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	_ Store             = (*Breaker)(nil)
	_ CompareAndDeleter = (*Breaker)(nil)
	_ CompareAndSwapper = (*Breaker)(nil)
)

// 熔断默认值
const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 10 * time.Second
)

// BreakerOption 熔断器配置选项
type BreakerOption func(*gobreaker.Settings)

// WithBreakerName 设置熔断器名称，出现在状态变更回调与错误信息中。
func WithBreakerName(name string) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Name = name
	}
}

// WithConsecutiveFailures 连续失败 n 次后打开熔断器，n <= 0 时忽略。
func WithConsecutiveFailures(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		if n > 0 {
			s.ReadyToTrip = func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= n
			}
		}
	}
}

// WithOpenTimeout 熔断器打开后进入半开状态前的等待时间，d <= 0 时忽略。
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		if d > 0 {
			s.Timeout = d
		}
	}
}

// WithStateChange 设置状态变更回调
func WithStateChange(fn func(name string, from, to gobreaker.State)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = fn
	}
}

// Breaker 为任意 Store 增加熔断保护。
//
// 只有传输层错误计入失败：锁已被占用（返回 false）不是错误，ErrNotInteger
// 视为成功响应，调用方取消的上下文被排除在统计之外。
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker 用熔断器包装 next
func NewBreaker(next Store, opts ...BreakerOption) *Breaker {
	st := gobreaker.Settings{
		Name:    "xstore",
		Timeout: defaultBreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= defaultBreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotInteger) || errors.Is(err, ErrEmptyKey)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(&st)
	}
	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](st),
	}
}

// Unwrap 返回被包装的存储
func (b *Breaker) Unwrap() Store {
	return b.next
}

// State 返回熔断器当前状态
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// execute 在熔断器内执行 fn。
func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s: %w", ErrBreakerOpen, b.cb.Name(), err)
		}
		return zero, err
	}
	return v.(T), nil
}

type getResult struct {
	value string
	found bool
}

func (b *Breaker) InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return execute(b, func() (bool, error) {
		return b.next.InsertIfAbsent(ctx, key, value, ttl)
	})
}

func (b *Breaker) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := execute(b, func() (getResult, error) {
		v, found, err := b.next.Get(ctx, key)
		return getResult{value: v, found: found}, err
	})
	return r.value, r.found, err
}

func (b *Breaker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *Breaker) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return execute(b, func() (int64, error) {
		return b.next.Increment(ctx, key, delta, ttl)
	})
}

func (b *Breaker) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return execute(b, func() (int64, error) {
		return b.next.Decrement(ctx, key, delta, ttl)
	})
}

func (b *Breaker) Delete(ctx context.Context, key string) (bool, error) {
	return execute(b, func() (bool, error) {
		return b.next.Delete(ctx, key)
	})
}

func (b *Breaker) Exists(ctx context.Context, key string) (bool, error) {
	return execute(b, func() (bool, error) {
		return b.next.Exists(ctx, key)
	})
}

func (b *Breaker) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	cad, ok := b.next.(CompareAndDeleter)
	if !ok {
		return false, ErrUnsupported
	}
	return execute(b, func() (bool, error) {
		return cad.CompareAndDelete(ctx, key, value)
	})
}

func (b *Breaker) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	cas, ok := b.next.(CompareAndSwapper)
	if !ok {
		return false, ErrUnsupported
	}
	return execute(b, func() (bool, error) {
		return cas.CompareAndSwap(ctx, key, old, new, ttl)
	})
}
