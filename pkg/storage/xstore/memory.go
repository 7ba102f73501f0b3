package xstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

var (
	_ Store             = (*Memory)(nil)
	_ CompareAndDeleter = (*Memory)(nil)
	_ CompareAndSwapper = (*Memory)(nil)
)

type memoryEntry struct {
	value    string
	expireAt time.Time // 零值表示永不过期
}

// Memory 进程内原子存储。
//
// 所有操作在同一把互斥锁内完成，过期键在下一次访问时惰性删除。
// 只在单进程内提供互斥，适合测试和不需要跨进程协调的场景。
type Memory struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// MemoryOption Memory 配置选项
type MemoryOption func(*Memory)

// WithClock 注入时钟，测试中用来推进过期时间。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory 创建进程内存储
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookup 返回未过期的条目，调用方必须持有锁。
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expireAt.IsZero() && !m.now().Before(e.expireAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = memoryEntry{value: value, expireAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := checkArgs(ctx, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = memoryEntry{value: value, expireAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := checkArgs(ctx, key); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	var current int64
	if ok {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
	}

	next := current + delta
	e.value = strconv.FormatInt(next, 10)
	if ttl > 0 {
		e.expireAt = m.expiry(ttl)
	}
	m.data[key] = e
	return next, nil
}

func (m *Memory) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return m.Increment(ctx, key, -delta, ttl)
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	delete(m.data, key)
	return ok, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	if err := checkArgs(ctx, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if old == "" {
		if ok {
			return false, nil
		}
	} else if !ok || e.value != old {
		return false, nil
	}
	m.data[key] = memoryEntry{value: new, expireAt: m.expiry(ttl)}
	return true, nil
}

// Len 返回当前未过期的键数量。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.data {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}

// checkArgs 校验公共参数
func checkArgs(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return ctx.Err()
}
