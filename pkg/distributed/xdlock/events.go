package xdlock

import (
	"context"
	"log/slog"
	"time"

	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// EventKind 锁生命周期事件类型
type EventKind int

const (
	// EventAcquired 获取成功：Key、Type、Owner、TTL
	EventAcquired EventKind = iota + 1
	// EventReleased 释放：Key、Type、Owner、HeldFor
	EventReleased
	// EventFailed 获取失败或释放时持有者不匹配：Key、Type、Reason
	EventFailed
	// EventTimeout 阻塞获取超时：Key、Type、Timeout
	EventTimeout
	// EventExtended 续期：Key、Type、AdditionalTTL
	EventExtended
)

func (k EventKind) String() string {
	switch k {
	case EventAcquired:
		return "acquired"
	case EventReleased:
		return "released"
	case EventFailed:
		return "failed"
	case EventTimeout:
		return "timeout"
	case EventExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// Event 锁生命周期事件，未使用的字段为零值。
type Event struct {
	Kind          EventKind
	Key           string
	Type          Type
	Owner         string
	TTL           time.Duration
	HeldFor       time.Duration
	Reason        string
	Timeout       time.Duration
	AdditionalTTL time.Duration
	Time          time.Time
}

// EventSink 事件接收器。
// Emit 是即发即弃的，不得阻塞，也不返回错误。
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink 丢弃所有事件
type NopSink struct{}

// Emit 实现 EventSink
func (NopSink) Emit(context.Context, Event) {}

// EventSinkFunc 函数适配器
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit 实现 EventSink
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// MultiSink 依次投递给多个接收器，nil 元素被跳过。
type MultiSink []EventSink

// Emit 实现 EventSink
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// LogSink 将事件写入 xlog。
// Timeout 与持有者不匹配记为 Warn，其余记为 Debug。
type LogSink struct {
	logger xlog.Logger
}

// NewLogSink 创建日志事件接收器，logger 为 nil 时使用 xlog.Discard()。
func NewLogSink(logger xlog.Logger) *LogSink {
	if logger == nil {
		logger = xlog.Discard()
	}
	return &LogSink{logger: logger.With(xlog.Component("xdlock"))}
}

// Emit 实现 EventSink
func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		xlog.LockKey(ev.Key),
		xlog.LockType(ev.Type.String()),
	}
	if ev.Owner != "" {
		attrs = append(attrs, xlog.Owner(ev.Owner))
	}

	switch ev.Kind {
	case EventAcquired:
		s.logger.Debug(ctx, "lock acquired", append(attrs, slog.Duration("ttl", ev.TTL))...)
	case EventReleased:
		s.logger.Debug(ctx, "lock released", append(attrs, xlog.Duration(ev.HeldFor))...)
	case EventExtended:
		s.logger.Debug(ctx, "lock extended", append(attrs, slog.Duration("additional_ttl", ev.AdditionalTTL))...)
	case EventFailed:
		attrs = append(attrs, slog.String("reason", ev.Reason))
		if ev.Reason == reasonOwnership {
			s.logger.Warn(ctx, "lock ownership violation", attrs...)
			return
		}
		s.logger.Debug(ctx, "lock acquisition failed", attrs...)
	case EventTimeout:
		s.logger.Warn(ctx, "lock acquisition timed out", append(attrs, slog.Duration("timeout", ev.Timeout))...)
	}
}
