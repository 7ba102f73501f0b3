package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xlocker/pkg/config/xconf"
	"github.com/omeyang/xlocker/pkg/distributed/xcron"
	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// 传给子进程的环境变量
const (
	envFencingToken = "XLOCK_FENCING_TOKEN"
	envKey          = "XLOCK_KEY"
	envOwner        = "XLOCK_OWNER"
)

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "exit status " + strconv.Itoa(e.code) }

// usageError 参数错误，退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createRunCommand(),
		createHoldCommand(),
		createStatusCommand(),
		createForceReleaseCommand(),
	}
}

// lockFlags 所有命令共用的锁标识参数
func lockFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "key",
			Aliases:  []string{"k"},
			Usage:    "锁 key，可重复指定组成复合 key（multi 类型为多个资源）",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"T"},
			Usage:   "锁类型，默认取配置 defaults.type",
		},
	}
}

// acquireFlags 获取锁的参数
func acquireFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{Name: "ttl", Usage: "锁过期时间，默认取配置 defaults.ttl"},
		&cli.DurationFlag{Name: "wait", Aliases: []string{"w"}, Usage: "阻塞等待时长，0 表示只尝试一次"},
		&cli.StringFlag{Name: "owner", Usage: "持有者标识，默认自动生成"},
		&cli.IntFlag{Name: "permits", Usage: "semaphore 类型的许可上限"},
	}
}

// createRunCommand 创建 run 子命令。
func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "持锁执行子进程",
		ArgsUsage: "-- <command> [args...]",
		Flags:     append(lockFlags(), acquireFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return usagef("run: missing command")
			}
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			return cmdRun(ctx, env, cmd)
		},
	}
}

// createHoldCommand 创建 hold 子命令。
func createHoldCommand() *cli.Command {
	return &cli.Command{
		Name:  "hold",
		Usage: "持有 watchdog 锁直到时长结束或收到信号",
		Flags: append(append(lockFlags()[:1], acquireFlags()...),
			&cli.DurationFlag{Name: "for", Usage: "持有时长，0 表示直到收到信号"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			return cmdHold(ctx, env, cmd)
		},
	}
}

// createStatusCommand 创建 status 子命令。
func createStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "查看锁是否被持有",
		Flags: lockFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			return cmdStatus(ctx, env, cmd)
		},
	}
}

// createForceReleaseCommand 创建 force-release 子命令。
func createForceReleaseCommand() *cli.Command {
	return &cli.Command{
		Name:  "force-release",
		Usage: "删除锁记录，不校验持有者",
		Flags: lockFlags()[:1],
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			released, err := env.mgr.ForceRelease(ctx, cmd.StringSlice("key"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "released: %v\n", released)
			return nil
		},
	}
}

// lockType 解析 --type，缺省时使用配置默认值
func lockType(env *environment, cmd *cli.Command) (xdlock.Type, error) {
	name := cmd.String("type")
	if name == "" {
		name = env.cfg.Defaults.Type
	}
	typ, err := xdlock.ParseType(name)
	if err != nil {
		return "", usagef("%v", err)
	}
	return typ, nil
}

// acquireOptions 把命令行参数转换为锁选项
func acquireOptions(cmd *cli.Command) []xdlock.Option {
	var opts []xdlock.Option
	if d := cmd.Duration("ttl"); d > 0 {
		opts = append(opts, xdlock.WithTTL(d))
	}
	if cmd.IsSet("wait") {
		opts = append(opts, xdlock.WithBlockTimeout(cmd.Duration("wait")))
	}
	if owner := cmd.String("owner"); owner != "" {
		opts = append(opts, xdlock.WithOwner(owner))
	}
	if n := cmd.Int("permits"); n > 0 {
		opts = append(opts, xdlock.WithPermits(int(n)))
	}
	return opts
}

// cmdRun 持锁执行子进程。
//
// watchdog / leased 锁在子进程运行期间由 xcron 续期，续期失败时终止子进程。
func cmdRun(ctx context.Context, env *environment, cmd *cli.Command) error {
	typ, err := lockType(env, cmd)
	if err != nil {
		return err
	}

	l, err := env.mgr.Acquire(ctx, typ, cmd.StringSlice("key"), acquireOptions(cmd)...)
	if err != nil {
		return err
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unwatch := func() {}
	if r, ok := l.(xdlock.Renewer); ok {
		id, err := env.sup.Watch(r, xcron.WithOnLost(func(_ xdlock.Renewer, err error) {
			env.logger.Error(ctx, "lock lost, terminating child", xlog.Err(err))
			cancel()
		}))
		if err != nil {
			return errors.Join(err, releaseQuietly(ctx, l))
		}
		unwatch = func() { env.sup.Remove(id) }
	}

	runErr := runChild(childCtx, cmd, l)
	unwatch()
	released, relErr := l.Release(context.WithoutCancel(ctx))
	if relErr == nil && !released {
		env.logger.Warn(ctx, "lock was not held at release", xlog.LockKey(l.Key()))
	}
	return errors.Join(runErr, relErr)
}

func runChild(ctx context.Context, cmd *cli.Command, l xdlock.Lock) error {
	args := cmd.Args().Slice()
	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.Root().Writer
	child.Stderr = cmd.Root().ErrWriter
	child.Env = append(os.Environ(), envKey+"="+l.Key(), envOwner+"="+l.Owner())
	if th, ok := l.(xdlock.TokenHolder); ok {
		child.Env = append(child.Env, envFencingToken+"="+strconv.FormatInt(th.Token(), 10))
	}

	if err := child.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			fmt.Fprintf(cmd.Root().ErrWriter, "%s: %v\n", args[0], err)
			return &exitError{code: exitFailure}
		}
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	return nil
}

// cmdHold 持有 watchdog 锁，按续期间隔续期。
func cmdHold(ctx context.Context, env *environment, cmd *cli.Command) error {
	l, err := env.mgr.Acquire(ctx, xdlock.TypeWatchdog, cmd.StringSlice("key"), acquireOptions(cmd)...)
	if err != nil {
		return err
	}

	lost := make(chan error, 1)
	id, err := env.sup.Watch(l.(xdlock.Renewer), xcron.WithOnLost(func(_ xdlock.Renewer, err error) {
		lost <- err
	}))
	if err != nil {
		return errors.Join(err, releaseQuietly(ctx, l))
	}
	fmt.Fprintf(cmd.Root().Writer, "holding %s as %s\n", l.Key(), l.Owner())

	var timer <-chan time.Time
	if d := cmd.Duration("for"); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-lost:
		return err
	case <-timer:
	case <-ctx.Done():
	}

	env.sup.Remove(id)
	return releaseQuietly(ctx, l)
}

func releaseQuietly(ctx context.Context, l xdlock.Lock) error {
	_, err := l.Release(context.WithoutCancel(ctx))
	return err
}

// cmdStatus 查看锁是否被持有
func cmdStatus(ctx context.Context, env *environment, cmd *cli.Command) error {
	typ, err := lockType(env, cmd)
	if err != nil {
		return err
	}
	locked, err := env.mgr.IsLocked(ctx, typ, cmd.StringSlice("key"))
	if err != nil {
		return err
	}
	state := "free"
	if locked {
		state = "locked"
	}
	fmt.Fprintf(cmd.Root().Writer, "%s\n", state)
	return nil
}

// loadConfig 读取 --config，未指定时使用默认配置
func loadConfig(cmd *cli.Command, opts ...xconf.Option) (*xconf.Config, error) {
	if path := cmd.String("config"); path != "" {
		return xconf.Load(path, opts...)
	}
	return xconf.Parse(nil, xconf.FormatYAML, opts...)
}
