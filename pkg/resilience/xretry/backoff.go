package xretry

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

// ExponentialBackoff 指数退避策略
//
//	delay = min(initial × multiplier^(attempt-1) × (1 ± jitter), max) + rand[0, maxJitter)
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	maxJitter    time.Duration
}

// ExponentialBackoffOption 指数退避配置选项
type ExponentialBackoffOption func(*ExponentialBackoff)

// WithInitialDelay 设置首次延迟，d <= 0 时忽略。
func WithInitialDelay(d time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.initialDelay = d
		}
	}
}

// WithMaxDelay 设置封顶延迟（不含加性抖动），d <= 0 时忽略。
func WithMaxDelay(d time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.maxDelay = d
		}
	}
}

// WithMultiplier 设置乘数因子，小于 1 的值被忽略。
func WithMultiplier(m float64) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		if m >= 1 {
			b.multiplier = m
		}
	}
}

// WithJitter 设置比例抖动因子，钳制到 [0, 1]。
func WithJitter(j float64) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		b.jitter = min(max(j, 0), 1)
	}
}

// WithMaxJitter 设置封顶之后叠加的加性抖动上限，负值按 0 处理。
//
// 多个进程同时等待同一把锁时，加性抖动把它们的轮询时刻打散，
// 即使基础延迟都已达到上限也不会同步撞上。
func WithMaxJitter(d time.Duration) ExponentialBackoffOption {
	return func(b *ExponentialBackoff) {
		b.maxJitter = max(d, 0)
	}
}

// NewExponentialBackoff 创建指数退避策略。
//
// 默认值：initialDelay 100ms，maxDelay 30s，multiplier 2.0，jitter 0.1，maxJitter 0。
func NewExponentialBackoff(opts ...ExponentialBackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxDelay < b.initialDelay {
		b.maxDelay = b.initialDelay
	}
	return b
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1))
	if b.jitter > 0 {
		delay *= 1.0 + (randomFloat64()*2-1)*b.jitter
	}

	// attempt 很大时 math.Pow 溢出为 +Inf，乘以 0 得到 NaN，NaN 的比较恒为 false。
	base := b.maxDelay
	if !math.IsNaN(delay) && delay >= 0 && delay < float64(b.maxDelay) {
		base = time.Duration(delay)
	}

	if b.maxJitter > 0 {
		base += time.Duration(randomFloat64() * float64(b.maxJitter))
	}
	return base
}

var _ BackoffPolicy = (*ExponentialBackoff)(nil)

const (
	floatBits  = 53
	floatScale = 1.0 / (1 << floatBits)
)

// randomFloat64 返回 [0, 1) 内的随机数，crypto/rand 失败时返回 0（无抖动）。
func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) * floatScale
}
