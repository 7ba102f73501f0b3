package xdlock

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xlocker/pkg/observability/xlog"
	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// =============================================================================
// 锁选项
// =============================================================================

// 默认值
const (
	DefaultTTL            = 60 * time.Second
	DefaultPermits        = 1
	DefaultShardCount     = 16
	DefaultDriftFactor    = 0.01
	DefaultBackoffBase    = 10 * time.Millisecond
	DefaultBackoffCap     = time.Second
	DefaultMaxJitter      = 100 * time.Millisecond
	minRenewInterval      = time.Second
	redlockFixedClockSlop = 2 * time.Millisecond
)

// LockConfig 锁配置，每个字段对应一个类型专用选项。
type LockConfig struct {
	// TTL 存储记录过期时间，默认 60s
	TTL time.Duration

	// Owner 持有者标识，为空时由 Manager 生成
	Owner string

	// BlockTimeout 阻塞获取的最长等待时间，0 表示单次尝试
	BlockTimeout time.Duration

	// Permits 信号量许可上限，默认 1
	Permits int

	// AcquirePermits 信号量每次请求的许可数，默认 1
	AcquirePermits int

	// RenewInterval watchdog/leased 续期间隔，默认 max(1s, TTL/2)
	RenewInterval time.Duration

	// ShardCount 分片数，默认 16。同一逻辑 key 的所有持有者必须使用相同值。
	ShardCount int

	// Quorum Redlock 多数派，0 表示 ⌊N/2⌋+1
	Quorum int

	// DriftFactor Redlock 时钟漂移因子，默认 0.01
	DriftFactor float64

	// BackoffBase 阻塞获取的初始退避，默认 10ms
	BackoffBase time.Duration

	// BackoffCap 阻塞获取的最大退避，默认 1s
	BackoffCap time.Duration

	// MaxJitter 阻塞获取的附加抖动上限，默认 100ms
	MaxJitter time.Duration
}

// DefaultLockConfig 返回默认锁配置
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:            DefaultTTL,
		Permits:        DefaultPermits,
		AcquirePermits: DefaultPermits,
		ShardCount:     DefaultShardCount,
		DriftFactor:    DefaultDriftFactor,
		BackoffBase:    DefaultBackoffBase,
		BackoffCap:     DefaultBackoffCap,
		MaxJitter:      DefaultMaxJitter,
	}
}

// renewInterval 返回生效的续期间隔
func (c LockConfig) renewInterval() time.Duration {
	if c.RenewInterval > 0 {
		return c.RenewInterval
	}
	return max(minRenewInterval, c.TTL/2)
}

// quorum 返回 n 个节点时生效的多数派
func (c LockConfig) quorum(n int) int {
	if c.Quorum > 0 {
		return c.Quorum
	}
	return n/2 + 1
}

func (c LockConfig) validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidOption, c.TTL)
	case c.BlockTimeout < 0:
		return fmt.Errorf("%w: block timeout must not be negative", ErrInvalidOption)
	case c.Permits < 1:
		return fmt.Errorf("%w: permits must be at least 1, got %d", ErrInvalidOption, c.Permits)
	case c.AcquirePermits < 1:
		return fmt.Errorf("%w: acquire permits must be at least 1, got %d", ErrInvalidOption, c.AcquirePermits)
	case c.ShardCount < 1:
		return fmt.Errorf("%w: shard count must be at least 1, got %d", ErrInvalidOption, c.ShardCount)
	case c.Quorum < 0:
		return fmt.Errorf("%w: quorum must not be negative", ErrInvalidOption)
	case c.DriftFactor < 0 || c.DriftFactor >= 1:
		return fmt.Errorf("%w: drift factor must be in [0, 1), got %v", ErrInvalidOption, c.DriftFactor)
	case c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase:
		return fmt.Errorf("%w: backoff base must be positive and not above cap", ErrInvalidOption)
	case c.MaxJitter < 0:
		return fmt.Errorf("%w: max jitter must not be negative", ErrInvalidOption)
	}
	return nil
}

// Option 锁配置选项
type Option func(*LockConfig)

// WithTTL 设置记录过期时间
func WithTTL(ttl time.Duration) Option {
	return func(c *LockConfig) {
		c.TTL = ttl
	}
}

// WithOwner 指定持有者标识。
// 相同 key 与相同 owner 的两个句柄被视为同一参与者（重入与续期）。
func WithOwner(owner string) Option {
	return func(c *LockConfig) {
		c.Owner = owner
	}
}

// WithBlockTimeout 设置阻塞获取的等待上限，0 表示单次尝试。
func WithBlockTimeout(d time.Duration) Option {
	return func(c *LockConfig) {
		c.BlockTimeout = d
	}
}

// WithPermits 设置信号量许可上限
func WithPermits(n int) Option {
	return func(c *LockConfig) {
		c.Permits = n
	}
}

// WithAcquirePermits 设置信号量每次请求的许可数。
// 请求数大于上限的获取总是失败，即使信号量为空。
func WithAcquirePermits(n int) Option {
	return func(c *LockConfig) {
		c.AcquirePermits = n
	}
}

// WithRenewInterval 设置续期间隔
func WithRenewInterval(d time.Duration) Option {
	return func(c *LockConfig) {
		c.RenewInterval = d
	}
}

// WithShardCount 设置分片数
func WithShardCount(n int) Option {
	return func(c *LockConfig) {
		c.ShardCount = n
	}
}

// WithQuorum 设置 Redlock 多数派
func WithQuorum(n int) Option {
	return func(c *LockConfig) {
		c.Quorum = n
	}
}

// WithDriftFactor 设置 Redlock 时钟漂移因子
func WithDriftFactor(f float64) Option {
	return func(c *LockConfig) {
		c.DriftFactor = f
	}
}

// WithBackoff 设置阻塞获取的初始与最大退避
func WithBackoff(base, ceiling time.Duration) Option {
	return func(c *LockConfig) {
		c.BackoffBase = base
		c.BackoffCap = ceiling
	}
}

// WithMaxJitter 设置阻塞获取的抖动上限，0 关闭抖动。
func WithMaxJitter(d time.Duration) Option {
	return func(c *LockConfig) {
		c.MaxJitter = d
	}
}

// =============================================================================
// 管理器选项
// =============================================================================

// ManagerOption 管理器配置选项
type ManagerOption func(*managerOptions)

type managerOptions struct {
	quorumStores   []xstore.Store
	sink           EventSink
	logger         xlog.Logger
	now            func() time.Time
	ownerFunc      func() string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	defaults       []Option
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		sink:      NopSink{},
		logger:    xlog.Discard(),
		now:       time.Now,
		ownerFunc: NewOwner,
	}
}

// WithQuorumStores 设置 Redlock 使用的独立节点，默认只使用主存储。
// 每个节点都必须实现 xstore.CompareAndDeleter。
func WithQuorumStores(stores ...xstore.Store) ManagerOption {
	return func(o *managerOptions) {
		o.quorumStores = append(o.quorumStores, stores...)
	}
}

// WithEventSink 设置事件接收器，nil 被忽略。
func WithEventSink(sink EventSink) ManagerOption {
	return func(o *managerOptions) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(logger xlog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock 设置时钟，用于持有时长与租约计算。
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOwnerFunc 设置持有者生成函数，默认 NewOwner。
func WithOwnerFunc(fn func() string) ManagerOption {
	return func(o *managerOptions) {
		if fn != nil {
			o.ownerFunc = fn
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用全局 provider。
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(o *managerOptions) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider 设置 MeterProvider，设置后自动挂载 MetricsSink。
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(o *managerOptions) {
		o.meterProvider = mp
	}
}

// WithDefaults 设置所有锁共享的默认选项，可被单次调用的选项覆盖。nil 被忽略。
func WithDefaults(opts ...Option) ManagerOption {
	return func(o *managerOptions) {
		for _, opt := range opts {
			if opt != nil {
				o.defaults = append(o.defaults, opt)
			}
		}
	}
}
