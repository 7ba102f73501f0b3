package xdlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/omeyang/xlocker/pkg/resilience/xretry"
)

// errNotAcquired 单次尝试未获取，驱动继续重试
var errNotAcquired = errors.New("xdlock: not acquired")

// acquireBlocking 在 cfg.BlockTimeout 内反复尝试获取 l。
//
// 退避为 BackoffBase·2^(n-1)，上限 BackoffCap，另加 [0, MaxJitter) 抖动。
// 存储错误立即返回；ctx 结束返回 ctx.Err()；等待超时返回 ErrAcquisitionTimedOut
// 并发出 Timeout 事件。排队型锁超时后会离开队列。
func (m *Manager) acquireBlocking(ctx context.Context, l Lock, cfg LockConfig) error {
	waitCtx, cancel := context.WithTimeout(ctx, cfg.BlockTimeout)
	defer cancel()

	retryer := xretry.NewRetryer(
		xretry.WithRetryPolicy(xretry.NewAlwaysRetry()),
		xretry.WithBackoffPolicy(xretry.NewExponentialBackoff(
			xretry.WithInitialDelay(cfg.BackoffBase),
			xretry.WithMaxDelay(cfg.BackoffCap),
			xretry.WithMultiplier(2),
			xretry.WithJitter(0),
			xretry.WithMaxJitter(cfg.MaxJitter),
		)),
		xretry.WithOnRetry(func(attempt int, _ error) {
			m.logger.Debug(ctx, "lock busy, retrying", append(lockAttrs(l, nil), slog.Int("attempt", attempt))...)
		}),
	)

	var (
		acquired bool
		storeErr error
	)
	_ = retryer.Do(waitCtx, func(context.Context) error { //nolint:errcheck // 结果由闭包变量表达
		// 单次尝试使用调用方 ctx，避免等待截止时打断进行中的存储操作
		ok, err := l.Acquire(ctx)
		switch {
		case err != nil:
			storeErr = err
			return xretry.NewPermanentError(err)
		case !ok:
			return errNotAcquired
		default:
			acquired = true
			return nil
		}
	})

	switch {
	case acquired:
		return nil
	case storeErr != nil:
		return storeErr
	case ctx.Err() != nil:
		return ctx.Err()
	}

	bg := context.WithoutCancel(ctx)
	if q, ok := l.(Queued); ok {
		if _, err := q.Leave(bg); err != nil {
			m.logger.Warn(bg, "leave queue after timeout failed", lockAttrs(l, err)...)
		}
	}
	m.sink.Emit(bg, Event{
		Kind:    EventTimeout,
		Key:     l.Key(),
		Type:    l.Type(),
		Owner:   l.Owner(),
		Timeout: cfg.BlockTimeout,
		Time:    m.now(),
	})
	return fmt.Errorf("%w: %s lock %q after %s", ErrAcquisitionTimedOut, l.Type(), l.Key(), cfg.BlockTimeout)
}
