package xdlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xlocker/pkg/observability/xlog"
	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// Manager 锁工厂与执行入口。
//
// Manager 持有主存储、Redlock 节点、事件接收器与默认选项，
// 按类型名分发创建锁句柄。Manager 本身并发安全，句柄之间互不共享状态。
type Manager struct {
	store     xstore.Store
	quorum    []xstore.Store
	sink      EventSink
	logger    xlog.Logger
	now       func() time.Time
	ownerFunc func() string
	tracer    trace.Tracer
	defaults  []Option
}

// factory 按已解析的配置创建具体锁
type factory func(m *Manager, mt meta, keys []string, cfg LockConfig) (Lock, error)

var factories = map[Type]factory{
	TypeSimple: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newSimpleLock(mt, recordKey(namespace(TypeSimple), mt.key)), nil
	},
	TypeSafe: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newSafeLock(mt), nil
	},
	TypeReentrant: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newReentrantLock(mt), nil
	},
	TypeRead: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newReadWriteLock(mt), nil
	},
	TypeWrite: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newReadWriteLock(mt), nil
	},
	TypeSemaphore: func(_ *Manager, mt meta, _ []string, cfg LockConfig) (Lock, error) {
		return newSemaphoreLock(mt, cfg), nil
	},
	TypeFair: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newFairLock(mt), nil
	},
	TypeRedlock: func(m *Manager, mt meta, _ []string, cfg LockConfig) (Lock, error) {
		return newRedlock(mt, m.quorum, cfg)
	},
	TypeFencing: func(_ *Manager, mt meta, _ []string, _ LockConfig) (Lock, error) {
		return newFencingLock(mt), nil
	},
	TypeStriped: func(_ *Manager, mt meta, _ []string, cfg LockConfig) (Lock, error) {
		return newStripedLock(mt, cfg), nil
	},
	TypeMulti: func(_ *Manager, mt meta, keys []string, _ LockConfig) (Lock, error) {
		return newMultiLock(mt, keys), nil
	},
	TypeWatchdog: func(_ *Manager, mt meta, _ []string, cfg LockConfig) (Lock, error) {
		return newWatchdogLock(mt, cfg), nil
	},
	TypeLeased: func(_ *Manager, mt meta, _ []string, cfg LockConfig) (Lock, error) {
		return newLeasedLock(mt, cfg), nil
	},
}

// recorder 可报告自身存储记录的锁，用于 IsLocked
type recorder interface {
	records() []string
}

// NewManager 创建锁管理器。
func NewManager(store xstore.Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}

	sinks := MultiSink{o.sink, NewLogSink(o.logger)}
	metrics, err := NewMetricsSink(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xdlock: create metrics: %w", err)
	}
	if metrics != nil {
		sinks = append(sinks, metrics)
	}

	quorum := o.quorumStores
	if len(quorum) == 0 {
		quorum = []xstore.Store{store}
	}

	return &Manager{
		store:     store,
		quorum:    quorum,
		sink:      sinks,
		logger:    o.logger.With(xlog.Component("xdlock")),
		now:       o.now,
		ownerFunc: o.ownerFunc,
		tracer:    getTracer(o.tracerProvider),
		defaults:  o.defaults,
	}, nil
}

// Supports 报告当前存储配置能否创建 typ 类型的锁。
func (m *Manager) Supports(typ Type) bool {
	if _, ok := factories[typ]; !ok {
		return false
	}
	if typ == TypeRedlock {
		for _, s := range m.quorum {
			if _, ok := xstore.AsCompareAndDeleter(s); !ok {
				return false
			}
		}
	}
	return true
}

// New 创建 typ 类型的锁句柄，不访问存储。
//
// keys 为组合 key，以 ":" 连接为逻辑 key；multi 类型则把每个元素视为独立资源。
func (m *Manager) New(typ Type, keys []string, opts ...Option) (Lock, error) {
	l, _, err := m.build(typ, keys, opts)
	return l, err
}

// Acquire 创建并获取锁。
// BlockTimeout > 0 时阻塞等待，否则只尝试一次，未获取返回 ErrAcquisitionFailed。
func (m *Manager) Acquire(ctx context.Context, typ Type, keys []string, opts ...Option) (Lock, error) {
	l, cfg, err := m.build(typ, keys, opts)
	if err != nil {
		return nil, err
	}
	if err := m.acquire(ctx, l, cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// AcquireLock 获取已创建的句柄，opts 中只有阻塞相关选项生效。
func (m *Manager) AcquireLock(ctx context.Context, l Lock, opts ...Option) error {
	if l == nil {
		return fmt.Errorf("%w: nil lock", ErrInvalidOption)
	}
	cfg := m.config(opts)
	if err := cfg.validate(); err != nil {
		return err
	}
	return m.acquire(ctx, l, cfg)
}

// Run 获取锁后执行 fn，并在任何退出路径（包括 panic）上释放锁。
// 释放错误与 fn 的错误合并返回；panic 在释放后重新抛出。
func (m *Manager) Run(ctx context.Context, typ Type, keys []string, fn func(ctx context.Context, l Lock) error, opts ...Option) error {
	if fn == nil {
		return ErrNilFunc
	}
	return m.run(ctx, spanNameRun, typ, keys, opts, fn)
}

// RunFenced 以 fencing 锁执行 fn，fn 收到本次获取的 token。
func (m *Manager) RunFenced(ctx context.Context, keys []string, fn func(ctx context.Context, token int64) error, opts ...Option) error {
	if fn == nil {
		return ErrNilFunc
	}
	return m.run(ctx, spanNameRunFenced, TypeFencing, keys, opts, func(ctx context.Context, l Lock) error {
		token := l.(TokenHolder).Token()
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(attrToken, token))
		return fn(ctx, token)
	})
}

func (m *Manager) run(ctx context.Context, spanName string, typ Type, keys []string, opts []Option, fn func(context.Context, Lock) error) (err error) {
	l, cfg, err := m.build(typ, keys, opts)
	if err != nil {
		return err
	}

	ctx, span := startSpan(ctx, m.tracer, spanName, typ, l.Key())
	span.SetAttributes(attribute.String(attrOwner, l.Owner()))
	defer func() {
		if r := recover(); r != nil {
			setSpanError(span, fmt.Errorf("panic: %v", r))
			span.End()
			panic(r)
		}
		if err != nil {
			setSpanError(span, err)
		} else {
			setSpanOK(span)
		}
		span.End()
	}()

	if err := m.acquire(ctx, l, cfg); err != nil {
		return err
	}
	defer func() {
		if _, rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
			m.logger.Warn(ctx, "release after run failed", lockAttrs(l, rerr)...)
			err = errors.Join(err, rerr)
		}
	}()

	return fn(ctx, l)
}

// IsLocked 报告 key 上是否存在 typ 类型的记录，不区分持有者。
// opts 用于需要配置才能定位记录的类型（如 striped 的分片数）。
func (m *Manager) IsLocked(ctx context.Context, typ Type, keys []string, opts ...Option) (bool, error) {
	l, _, err := m.build(typ, keys, opts)
	if err != nil {
		return false, err
	}
	if rl, ok := l.(*Redlock); ok {
		n, err := rl.heldBy(ctx)
		if err != nil {
			return false, err
		}
		return n >= rl.Quorum(), nil
	}
	for _, key := range l.(recorder).records() {
		exists, err := m.store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// ForceRelease 不校验持有者，删除 key 的 simple、safe、reentrant 与读写锁记录。
// 任一记录被删除时返回 true。这是运维操作，会破坏当前持有者的互斥保证。
func (m *Manager) ForceRelease(ctx context.Context, keys []string) (bool, error) {
	key, err := joinKey(keys)
	if err != nil {
		return false, err
	}
	rw := namespace(TypeRead)
	records := []string{
		recordKey(namespace(TypeSimple), key),
		recordKey(namespace(TypeSafe), key),
		recordKey(namespace(TypeReentrant), key),
		recordKey(rw, key, "read"),
		recordKey(rw, key, "write"),
		recordKey(rw, key, "owners"),
	}

	released := false
	for _, r := range records {
		deleted, err := m.store.Delete(ctx, r)
		if err != nil {
			return released, err
		}
		released = released || deleted
	}
	if released {
		m.logger.Warn(ctx, "lock force released", xlog.LockKey(key))
	}
	return released, nil
}

// =============================================================================
// 内部
// =============================================================================

// config 合并默认配置、管理器默认选项与单次选项
func (m *Manager) config(opts []Option) LockConfig {
	cfg := DefaultLockConfig()
	for _, opt := range m.defaults {
		if opt != nil {
			opt(&cfg)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (m *Manager) build(typ Type, keys []string, opts []Option) (Lock, LockConfig, error) {
	create, ok := factories[typ]
	if !ok {
		return nil, LockConfig{}, fmt.Errorf("%w: %q", ErrUnsupportedLockType, string(typ))
	}
	cfg := m.config(opts)
	if err := cfg.validate(); err != nil {
		return nil, cfg, err
	}

	var (
		key    string
		sorted []string
		err    error
	)
	if typ == TypeMulti {
		sorted, err = sortedKeys(keys)
		key = multiKey(sorted)
	} else {
		key, err = joinKey(keys)
	}
	if err != nil {
		return nil, cfg, err
	}

	owner := cfg.Owner
	if owner == "" {
		owner = m.ownerFunc()
	}
	l, err := create(m, newMeta(m.store, typ, key, owner, cfg.TTL, m.sink, m.now), sorted, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return l, cfg, nil
}

func (m *Manager) acquire(ctx context.Context, l Lock, cfg LockConfig) error {
	if cfg.BlockTimeout > 0 {
		err := m.acquireBlocking(ctx, l, cfg)
		if err != nil && !errors.Is(err, ErrAcquisitionTimedOut) && ctx.Err() == nil {
			m.logger.Warn(ctx, "lock acquire failed", lockAttrs(l, err)...)
		}
		return err
	}

	ok, err := l.Acquire(ctx)
	if err != nil {
		m.logger.Warn(ctx, "lock acquire failed", lockAttrs(l, err)...)
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lock %q", ErrAcquisitionFailed, l.Type(), l.Key())
	}
	return nil
}

func lockAttrs(l Lock, err error) []slog.Attr {
	attrs := []slog.Attr{
		xlog.LockKey(l.Key()),
		xlog.LockType(l.Type().String()),
		xlog.Owner(l.Owner()),
	}
	if err != nil {
		attrs = append(attrs, xlog.Err(err))
	}
	return attrs
}
