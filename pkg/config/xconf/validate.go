package xconf

import (
	"errors"
	"fmt"

	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// Validate 校验配置，返回的错误包装 [ErrInvalidConfig]，多个问题合并返回。
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			add("store.redis.addrs is required for driver %q", DriverRedis)
		}
	case DriverEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			add("store.etcd.endpoints is required for driver %q", DriverEtcd)
		}
		if c.Store.Etcd.DialTimeout <= 0 {
			add("store.etcd.dial_timeout must be positive")
		}
	default:
		add("unknown store.driver %q", c.Store.Driver)
	}

	if c.Defaults.TTL <= 0 {
		add("defaults.ttl must be positive, got %s", c.Defaults.TTL)
	}
	if c.Defaults.BlockTimeout < 0 {
		add("defaults.block_timeout must not be negative")
	}
	if _, err := xdlock.ParseType(c.Defaults.Type); err != nil {
		add("defaults.type: %v", err)
	}
	if c.Defaults.Permits < 1 {
		add("defaults.permits must be at least 1")
	}
	if c.Defaults.ShardCount < 1 {
		add("defaults.shard_count must be at least 1")
	}

	for i, conn := range c.Redlock.Connections {
		if len(conn.Addrs) == 0 {
			add("redlock.connections[%d].addrs is required", i)
		}
	}
	if c.Redlock.ClockDriftFactor < 0 || c.Redlock.ClockDriftFactor >= 1 {
		add("redlock.clock_drift_factor must be in [0, 1)")
	}
	if n := c.Redlock.Quorum; n < 0 || (len(c.Redlock.Connections) > 0 && n > len(c.Redlock.Connections)) {
		add("redlock.quorum %d out of range", n)
	}

	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}
