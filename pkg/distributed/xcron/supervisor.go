package xcron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// ===================== Errors =====================

var (
	// ErrNilLock 传入的锁为 nil
	ErrNilLock = errors.New("xcron: lock cannot be nil")

	// ErrNilJob 任务函数为 nil
	ErrNilJob = errors.New("xcron: job cannot be nil")

	// ErrInvalidInterval 调度间隔必须为正
	ErrInvalidInterval = errors.New("xcron: interval must be positive")

	// ErrInvalidSpec cron 表达式无法解析
	ErrInvalidSpec = errors.New("xcron: invalid cron spec")

	// ErrNoManager 调用 AddFunc 时未通过 WithManager 设置锁管理器
	ErrNoManager = errors.New("xcron: lock manager not configured")

	// ErrStopped 调度器已停止
	ErrStopped = errors.New("xcron: supervisor stopped")

	// ErrLockLost 续期失败，锁已不再由本句柄持有
	ErrLockLost = errors.New("xcron: lock lost")
)

// JobID 任务唯一标识，直接复用 cron.EntryID。
type JobID = cron.EntryID

// every 固定间隔调度。
//
// 与 cron.Every 不同，不把间隔向上取整到秒。
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Supervisor 锁句柄的外部调度器。
//
// 所有任务都在 cron 的协程中执行，同一任务不会并发运行。
// 使用 [NewSupervisor] 创建。
type Supervisor struct {
	cron   *cron.Cron
	opts   *options
	cronLg cron.Logger

	// ctx 在 Stop 时取消，中止所有进行中的调用
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	watches map[JobID]*watch
	wg      sync.WaitGroup // Poll 的取消监听协程
}

// NewSupervisor 创建调度器，需调用 Start 后任务才会执行。
func NewSupervisor(opts ...Option) *Supervisor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	lg := cronLogger{logger: o.logger.With(xlog.Component("xcron"))}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cron: cron.New(
			cron.WithLocation(o.location),
			cron.WithParser(o.parser),
			cron.WithLogger(lg),
			cron.WithChain(cron.Recover(lg)),
		),
		opts:    o,
		cronLg:  lg,
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[JobID]*watch),
	}
}

// Start 启动调度（非阻塞），重复调用无效果。
func (s *Supervisor) Start() {
	s.cron.Start()
}

// Stop 停止调度并取消进行中的调用。
//
// 返回的 context 在所有运行中的任务结束、所有 Poll 都已通知结果后 Done。
//
//	<-sup.Stop().Done()
func (s *Supervisor) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	cronCtx := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// Remove 移除任务，正在执行的一次不受影响。
//
// 对 Watch 任务，Remove 之后进行中的续期即使失败也不再回调 OnLost，
// 因此主动释放锁前应先 Remove。
func (s *Supervisor) Remove(id JobID) {
	s.mu.Lock()
	if w, ok := s.watches[id]; ok {
		w.removed.Store(true)
		delete(s.watches, id)
	}
	s.mu.Unlock()
	s.cron.Remove(id)
}

// Entries 返回所有已注册的任务
func (s *Supervisor) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Cron 返回底层 *cron.Cron
func (s *Supervisor) Cron() *cron.Cron {
	return s.cron
}

// schedule 注册任务并把 ID 绑定到 b，b 在绑定完成前调用 id() 会阻塞。
func (s *Supervisor) schedule(sched cron.Schedule, job cron.Job, b *binding) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrStopped
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry = s.cron.Schedule(sched, cron.NewChain(cron.SkipIfStillRunning(s.cronLg)).Then(job))
	return b.entry, nil
}

// call 派生单次存储调用的 context
func (s *Supervisor) call(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opts.callTimeout)
}

func lockAttrs(l xdlock.Lock) []slog.Attr {
	return []slog.Attr{
		xlog.LockKey(l.Key()),
		xlog.LockType(l.Type().String()),
		xlog.Owner(l.Owner()),
	}
}

// binding 任务与其 cron ID 的绑定
type binding struct {
	mu    sync.Mutex
	entry JobID
}

func (b *binding) id() JobID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry
}

// ===================== Watch =====================

// Watch 按续期间隔调度 lock.Renew。
//
// 间隔默认取 lock.RenewInterval()，可通过 [WithInterval] 覆盖。
// Renew 返回 false 或连续存储错误达到上限时，任务被移除并回调 OnLost，
// 回调收到的错误包装 [ErrLockLost]。
func (s *Supervisor) Watch(lock xdlock.Renewer, opts ...WatchOption) (JobID, error) {
	if lock == nil {
		return 0, ErrNilLock
	}
	o := watchOptions{interval: lock.RenewInterval(), maxFailures: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		return 0, ErrInvalidInterval
	}

	w := &watch{s: s, lock: lock, opts: o}
	id, err := s.schedule(every(o.interval), w, &w.binding)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.watches[id] = w
	s.mu.Unlock()

	s.opts.logger.Debug(s.ctx, "lock renewal scheduled",
		append(lockAttrs(lock), xlog.Duration(o.interval))...)
	return id, nil
}

type watch struct {
	binding
	s        *Supervisor
	lock     xdlock.Renewer
	opts     watchOptions
	removed  atomic.Bool
	failures int
}

// Run 实现 cron.Job
func (w *watch) Run() {
	if w.removed.Load() {
		return
	}
	ctx, cancel := w.s.call(w.s.ctx)
	defer cancel()

	ok, err := w.lock.Renew(ctx)
	if err == nil && ok {
		w.failures = 0
		return
	}
	if w.removed.Load() || w.s.ctx.Err() != nil {
		return
	}
	if err != nil {
		w.failures++
		w.s.opts.logger.Warn(ctx, "lock renewal failed", append(lockAttrs(w.lock), xlog.Err(err))...)
		if w.failures < w.opts.maxFailures {
			return
		}
		err = fmt.Errorf("%w: %s: %w", ErrLockLost, w.lock.Key(), err)
	} else {
		err = fmt.Errorf("%w: %s", ErrLockLost, w.lock.Key())
	}

	w.s.Remove(w.id())
	w.s.opts.logger.Warn(ctx, "lock lost", lockAttrs(w.lock)...)
	if w.opts.onLost != nil {
		w.opts.onLost(w.lock, err)
	}
}

// ===================== Poll =====================

// Poll 每隔 interval 调用一次 lock.Acquire，直到成功。
//
// 返回的 channel 恰好收到一个值：成功时为 nil，存储错误时为该错误，
// ctx 取消时为 ctx.Err()，调度器停止时为 [ErrStopped]。
// 放弃等待时，若锁在队列中（公平锁）会离开队列。
func (s *Supervisor) Poll(ctx context.Context, lock xdlock.Lock, interval time.Duration) (<-chan error, error) {
	if lock == nil {
		return nil, ErrNilLock
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	p := &poll{
		s:      s,
		ctx:    ctx,
		lock:   lock,
		result: make(chan error, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if _, err := s.schedule(every(interval), p, &p.binding); err != nil {
		s.wg.Done()
		return nil, err
	}
	go p.wait()
	return p.result, nil
}

type poll struct {
	binding
	s      *Supervisor
	ctx    context.Context
	lock   xdlock.Lock
	result chan error
	done   chan struct{}

	runMu    sync.Mutex // 串行化 Acquire 与放弃等待
	finished bool
}

// Run 实现 cron.Job
func (p *poll) Run() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.finished {
		return
	}

	ctx, cancel := p.s.call(p.ctx)
	defer cancel()

	ok, err := p.lock.Acquire(ctx)
	switch {
	case err != nil:
		// ctx 取消由 wait 处理
		if p.ctx.Err() == nil {
			p.finishLocked(err)
		}
	case ok:
		p.finishLocked(nil)
	}
}

// wait 监听取消
func (p *poll) wait() {
	defer p.s.wg.Done()
	select {
	case <-p.ctx.Done():
		p.abandon(p.ctx.Err())
	case <-p.s.ctx.Done():
		p.abandon(ErrStopped)
	case <-p.done:
	}
}

func (p *poll) abandon(cause error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.finished {
		return
	}

	if q, ok := p.lock.(xdlock.Queued); ok {
		ctx, cancel := p.s.call(context.WithoutCancel(p.ctx))
		if _, err := q.Leave(ctx); err != nil {
			p.s.opts.logger.Warn(ctx, "leave queue failed", append(lockAttrs(p.lock), xlog.Err(err))...)
		}
		cancel()
	}
	p.finishLocked(cause)
}

// finishLocked 移除任务并通知结果，调用方需持有 runMu
func (p *poll) finishLocked(err error) {
	p.finished = true
	p.s.Remove(p.id())
	p.result <- err
	close(p.done)
}

// ===================== Locked jobs =====================

// AddFunc 按 cron 表达式执行 fn，执行期间持有 keys 上的 watchdog 锁。
//
// 每次触发单次尝试获取锁：锁被其他副本持有时跳过本次执行。
// 持锁期间锁由 Watch 自动续期，续期失败时取消 fn 的 ctx。
// 需要通过 [WithManager] 设置锁管理器。
//
//	id, err := sup.AddFunc("@every 1m", []string{"report"}, func(ctx context.Context) error {
//	    return buildReport(ctx)
//	}, xcron.WithLockOptions(xdlock.WithTTL(30*time.Second)))
func (s *Supervisor) AddFunc(spec string, keys []string, fn func(ctx context.Context) error, opts ...JobOption) (JobID, error) {
	if s.opts.manager == nil {
		return 0, ErrNoManager
	}
	if fn == nil {
		return 0, ErrNilJob
	}
	sched, err := s.opts.parser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, spec, err)
	}

	var o jobOptions
	for _, opt := range opts {
		opt(&o)
	}
	j := &lockedJob{s: s, keys: keys, fn: fn, opts: o}
	return s.schedule(sched, j, &j.binding)
}

type lockedJob struct {
	binding
	s    *Supervisor
	keys []string
	fn   func(ctx context.Context) error
	opts jobOptions
}

// Run 实现 cron.Job
func (j *lockedJob) Run() {
	s := j.s
	logger := s.opts.logger
	if j.opts.name != "" {
		logger = logger.With(xlog.Operation(j.opts.name))
	}

	l, err := s.opts.manager.Acquire(s.ctx, xdlock.TypeWatchdog, j.keys, j.opts.lock...)
	switch {
	case errors.Is(err, xdlock.ErrAcquisitionFailed):
		logger.Debug(s.ctx, "job skipped, lock held elsewhere")
		return
	case err != nil:
		logger.Warn(s.ctx, "job lock acquisition failed", xlog.Err(err))
		return
	}
	attrs := lockAttrs(l)

	defer func() {
		ctx, cancel := s.call(context.WithoutCancel(s.ctx))
		defer cancel()
		if _, err := l.Release(ctx); err != nil {
			logger.Warn(ctx, "job lock release failed", append(attrs, xlog.Err(err))...)
		}
	}()

	taskCtx, taskCancel := context.WithCancel(s.ctx)
	defer taskCancel()
	if j.opts.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, j.opts.timeout)
		defer cancel()
	}

	if r, ok := l.(xdlock.Renewer); ok {
		id, err := s.Watch(r, WithOnLost(func(_ xdlock.Renewer, err error) {
			logger.Warn(s.ctx, "job lock lost, canceling job", append(attrs, xlog.Err(err))...)
			taskCancel()
		}))
		if err == nil {
			defer s.Remove(id)
		}
	}

	start := time.Now()
	if err := j.fn(taskCtx); err != nil {
		logger.Warn(taskCtx, "job failed", append(attrs, xlog.Err(err), xlog.Duration(time.Since(start)))...)
		return
	}
	logger.Debug(taskCtx, "job done", append(attrs, xlog.Duration(time.Since(start)))...)
}
