package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/xlocker/pkg/config/xconf"
	"github.com/omeyang/xlocker/pkg/distributed/xcron"
	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/observability/xlog"
	"github.com/omeyang/xlocker/pkg/storage/xstore"
)

// environment 一次命令执行所需的全部依赖
type environment struct {
	cfg     *xconf.Config
	logger  xlog.LoggerWithLevel
	mgr     *xdlock.Manager
	sup     *xcron.Supervisor
	closers []func() error
}

// close 按创建的逆序关闭所有资源
func (e *environment) close() {
	if e.sup != nil {
		<-e.sup.Stop().Done()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && e.logger != nil {
			e.logger.Warn(context.Background(), "close failed", xlog.Err(err))
		}
	}
}

// setup 读取配置，创建日志、存储、锁管理器和续期调度器。
func setup(cmd *cli.Command) (_ *environment, err error) {
	var loadOpts []xconf.Option
	if lvl := cmd.String("log-level"); lvl != "" {
		if _, perr := xlog.ParseLevel(lvl); perr != nil {
			return nil, usagef("--log-level: %v", perr)
		}
		loadOpts = append(loadOpts, xconf.WithOverride(func(c *xconf.Config) { c.Log.Level = lvl }))
	}
	cfg, err := loadConfig(cmd, loadOpts...)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg}
	defer func() {
		if err != nil {
			env.close()
		}
	}()

	logger, cleanup, err := newLogger(cfg.Log, cmd.Root().ErrWriter)
	if err != nil {
		return nil, err
	}
	env.logger = logger
	env.closers = append(env.closers, cleanup)

	store, closer, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, closer)

	quorum, closers, err := openQuorum(cfg.Redlock)
	env.closers = append(env.closers, closers...)
	if err != nil {
		return nil, err
	}

	opts := []xdlock.ManagerOption{
		xdlock.WithLogger(logger),
		xdlock.WithDefaults(defaultOptions(cfg)...),
	}
	if len(quorum) > 0 {
		opts = append(opts, xdlock.WithQuorumStores(quorum...))
	}
	if env.mgr, err = xdlock.NewManager(store, opts...); err != nil {
		return nil, err
	}

	env.sup = xcron.NewSupervisor(xcron.WithLogger(logger))
	env.sup.Start()

	if path := cmd.String("config"); path != "" {
		if w, werr := watchLogLevel(path, logger, loadOpts); werr != nil {
			logger.Warn(context.Background(), "config watch disabled", xlog.Err(werr))
		} else {
			env.closers = append(env.closers, w.Stop)
		}
	}
	return env, nil
}

// newLogger 按配置创建日志，file 非空时输出到轮转文件。
func newLogger(cfg xconf.LogConfig, stderr io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().SetOutput(stderr).SetFormat(cfg.Format).SetLevelString(cfg.Level)
	if cfg.File != "" {
		var rotation []xlog.RotationOption
		if cfg.MaxSize > 0 {
			rotation = append(rotation, xlog.WithMaxSize(cfg.MaxSize))
		}
		if cfg.MaxBackups > 0 {
			rotation = append(rotation, xlog.WithMaxBackups(cfg.MaxBackups))
		}
		rotation = append(rotation, xlog.WithCompress(cfg.Compress))
		b = b.SetRotation(cfg.File, rotation...)
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return logger, cleanup, nil
}

// watchLogLevel 配置文件变更时热更新日志级别，其余字段需重启生效。
// 命令行 --log-level 通过 loadOpts 在重新加载时继续生效。
func watchLogLevel(path string, logger xlog.LoggerWithLevel, loadOpts []xconf.Option) (*xconf.Watcher, error) {
	w, err := xconf.Watch(path, func(c *xconf.Config, err error) {
		ctx := context.Background()
		if err != nil {
			logger.Warn(ctx, "config reload failed", xlog.Err(err))
			return
		}
		level, err := xlog.ParseLevel(c.Log.Level)
		if err != nil {
			return
		}
		logger.SetLevel(level)
		logger.Info(ctx, "log level updated", slog.String("level", c.Log.Level))
	}, xconf.WithLoadOptions(loadOpts...))
	if err != nil {
		return nil, err
	}
	w.StartAsync()
	return w, nil
}

// openStore 按 store.driver 创建主存储
func openStore(cfg xconf.StoreConfig) (xstore.Store, func() error, error) {
	switch cfg.Driver {
	case xconf.DriverRedis:
		client := newRedisClient(cfg.Redis)
		store, err := xstore.NewRedis(client)
		if err != nil {
			return nil, nil, errors.Join(err, client.Close())
		}
		return store, client.Close, nil

	case xconf.DriverEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("etcd: %w", err)
		}
		store, err := xstore.NewEtcd(client)
		if err != nil {
			return nil, nil, errors.Join(err, client.Close())
		}
		return store, client.Close, nil

	default:
		return xstore.NewMemory(), func() error { return nil }, nil
	}
}

// openQuorum 创建 Redlock 的独立节点，breaker_failures > 0 时每个节点单独熔断。
func openQuorum(cfg xconf.RedlockConfig) ([]xstore.Store, []func() error, error) {
	var (
		stores  []xstore.Store
		closers []func() error
	)
	for i, conn := range cfg.Connections {
		client := newRedisClient(conn)
		closers = append(closers, client.Close)

		store, err := xstore.NewRedis(client)
		if err != nil {
			return nil, closers, fmt.Errorf("redlock.connections[%d]: %w", i, err)
		}
		if cfg.BreakerFailures == 0 {
			stores = append(stores, store)
			continue
		}
		stores = append(stores, xstore.NewBreaker(store,
			xstore.WithBreakerName(strings.Join(conn.Addrs, ",")),
			xstore.WithConsecutiveFailures(cfg.BreakerFailures),
		))
	}
	return stores, closers, nil
}

func newRedisClient(cfg xconf.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MasterName: cfg.MasterName,
	})
}

// defaultOptions 把配置中的 defaults / redlock 转为锁的默认选项
func defaultOptions(cfg *xconf.Config) []xdlock.Option {
	opts := []xdlock.Option{
		xdlock.WithTTL(cfg.Defaults.TTL),
		xdlock.WithBlockTimeout(cfg.Defaults.BlockTimeout),
		xdlock.WithPermits(cfg.Defaults.Permits),
		xdlock.WithShardCount(cfg.Defaults.ShardCount),
		xdlock.WithDriftFactor(cfg.Redlock.ClockDriftFactor),
	}
	if cfg.Redlock.Quorum > 0 {
		opts = append(opts, xdlock.WithQuorum(cfg.Redlock.Quorum))
	}
	return opts
}
