package xcron

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// ===================== Supervisor Options =====================

// options 调度器配置
type options struct {
	logger      xlog.Logger     // 日志记录器
	location    *time.Location  // 时区
	parser      cron.Parser     // cron 表达式解析器
	callTimeout time.Duration   // 单次 Renew/Acquire 的超时
	manager     *xdlock.Manager // AddFunc 使用的锁管理器
}

// defaultCallTimeout 单次存储调用的默认超时
const defaultCallTimeout = 5 * time.Second

func defaultOptions() *options {
	return &options{
		logger:      xlog.Discard(),
		location:    time.Local,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		callTimeout: defaultCallTimeout,
	}
}

// Option 调度器配置选项
type Option func(*options)

// WithLogger 设置日志记录器。nil 被忽略。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocation 设置时区。
//
// AddFunc 的 cron 表达式按此时区解释，默认本地时区。
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithParser 自定义 cron 表达式解析器。
//
// 默认解析器支持标准 5 字段表达式和 @every / @daily 等描述符。
// 需要秒级精度时：
//
//	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
//	sup := xcron.NewSupervisor(xcron.WithParser(parser))
func WithParser(parser cron.Parser) Option {
	return func(o *options) {
		o.parser = parser
	}
}

// WithCallTimeout 设置单次 Renew / Acquire 调用的超时，非正值被忽略。
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithManager 设置 AddFunc 使用的锁管理器。
func WithManager(mgr *xdlock.Manager) Option {
	return func(o *options) {
		o.manager = mgr
	}
}

// ===================== Watch Options =====================

// LostFunc 续期失败或锁丢失时的回调。
//
// 在调度协程中调用，不应长时间阻塞。
type LostFunc func(lock xdlock.Renewer, err error)

type watchOptions struct {
	interval    time.Duration
	maxFailures int
	onLost      LostFunc
}

// WatchOption 续期任务配置选项
type WatchOption func(*watchOptions)

// WithInterval 覆盖锁建议的续期间隔
func WithInterval(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		o.interval = d
	}
}

// WithMaxFailures 连续多少次存储错误后判定锁丢失，默认 1。
//
// Renew 明确返回 false（记录已被他人持有或已过期）时立即判定丢失，不受此值影响。
func WithMaxFailures(n int) WatchOption {
	return func(o *watchOptions) {
		if n > 0 {
			o.maxFailures = n
		}
	}
}

// WithOnLost 设置锁丢失回调
func WithOnLost(fn LostFunc) WatchOption {
	return func(o *watchOptions) {
		o.onLost = fn
	}
}

// ===================== Job Options =====================

type jobOptions struct {
	name    string
	timeout time.Duration
	lock    []xdlock.Option
}

// JobOption AddFunc 任务配置选项
type JobOption func(*jobOptions)

// WithName 设置任务名，用于日志。默认使用锁 key。
func WithName(name string) JobOption {
	return func(o *jobOptions) {
		o.name = name
	}
}

// WithTimeout 设置单次任务执行超时，非正值表示不限制。
func WithTimeout(d time.Duration) JobOption {
	return func(o *jobOptions) {
		o.timeout = d
	}
}

// WithLockOptions 追加获取任务锁时使用的 xdlock 选项（如 TTL）。
func WithLockOptions(opts ...xdlock.Option) JobOption {
	return func(o *jobOptions) {
		o.lock = append(o.lock, opts...)
	}
}
