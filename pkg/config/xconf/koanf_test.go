package xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 测试数据
// =============================================================================

const testYAMLContent = `
store:
  driver: redis
  redis:
    addrs: ["127.0.0.1:6379"]
    db: 2
defaults:
  ttl: 30s
  type: fencing
  block_timeout: 5s
redlock:
  connections:
    - addrs: ["10.0.0.1:6379"]
    - addrs: ["10.0.0.2:6379"]
    - addrs: ["10.0.0.3:6379"]
  quorum: 2
  breaker_failures: 5
log:
  level: debug
  format: json
`

const testJSONContent = `{
  "store": {"driver": "etcd", "etcd": {"endpoints": ["127.0.0.1:2379"], "dial_timeout": "2s"}},
  "defaults": {"ttl": "10s", "permits": 3}
}`

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// =============================================================================
// Load / Parse
// =============================================================================

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(createTempFile(t, "xlocker.yaml", testYAMLContent))
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, []string{"127.0.0.1:6379"}, cfg.Store.Redis.Addrs)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Defaults.TTL)
	assert.Equal(t, "fencing", cfg.Defaults.Type)
	assert.Equal(t, 5*time.Second, cfg.Defaults.BlockTimeout)
	require.Len(t, cfg.Redlock.Connections, 3)
	assert.Equal(t, 2, cfg.Redlock.Quorum)
	assert.Equal(t, uint32(5), cfg.Redlock.BreakerFailures)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// 未出现的字段保留默认值
	assert.Equal(t, 16, cfg.Defaults.ShardCount)
	assert.InDelta(t, 0.01, cfg.Redlock.ClockDriftFactor, 1e-12)
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(createTempFile(t, "xlocker.json", testJSONContent))
	require.NoError(t, err)

	assert.Equal(t, DriverEtcd, cfg.Store.Driver)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Store.Etcd.Endpoints)
	assert.Equal(t, 2*time.Second, cfg.Store.Etcd.DialTimeout)
	assert.Equal(t, 10*time.Second, cfg.Defaults.TTL)
	assert.Equal(t, 3, cfg.Defaults.Permits)
	assert.Equal(t, "simple", cfg.Defaults.Type)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	require.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load(createTempFile(t, "xlocker.toml", "a = 1"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrLoadFailed)

	_, err = Load(createTempFile(t, "broken.yaml", "store: [unclosed"))
	require.ErrorIs(t, err, ErrParseFailed)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("{}"), Format("toml"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParse_UnmarshalFailed(t *testing.T) {
	_, err := Parse([]byte("defaults:\n  ttl: [1, 2]\n"), FormatYAML)
	require.ErrorIs(t, err, ErrUnmarshalFailed)
}

func TestParse_WithOverride(t *testing.T) {
	t.Run("AppliedAfterFile", func(t *testing.T) {
		cfg, err := Parse([]byte("log:\n  level: warn\n"), FormatYAML,
			WithOverride(func(c *Config) { c.Log.Level = "debug" }),
			nil,
		)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("InOrder", func(t *testing.T) {
		cfg, err := Parse(nil, FormatYAML,
			WithOverride(func(c *Config) { c.Defaults.Permits = 3 }),
			WithOverride(func(c *Config) { c.Defaults.Permits *= 2 }),
		)
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Defaults.Permits)
	})

	t.Run("Validated", func(t *testing.T) {
		_, err := Parse(nil, FormatYAML, WithOverride(func(c *Config) { c.Log.Level = "chatty" }))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

// =============================================================================
// Validate
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"UnknownDriver", func(c *Config) { c.Store.Driver = "zookeeper" }, "store.driver"},
		{"RedisWithoutAddrs", func(c *Config) { c.Store.Driver = DriverRedis }, "store.redis.addrs"},
		{"EtcdWithoutEndpoints", func(c *Config) { c.Store.Driver = DriverEtcd }, "store.etcd.endpoints"},
		{"ZeroTTL", func(c *Config) { c.Defaults.TTL = 0 }, "defaults.ttl"},
		{"NegativeBlock", func(c *Config) { c.Defaults.BlockTimeout = -time.Second }, "defaults.block_timeout"},
		{"UnknownType", func(c *Config) { c.Defaults.Type = "spinlock" }, "defaults.type"},
		{"ZeroPermits", func(c *Config) { c.Defaults.Permits = 0 }, "defaults.permits"},
		{"ZeroShards", func(c *Config) { c.Defaults.ShardCount = 0 }, "defaults.shard_count"},
		{"EmptyConnection", func(c *Config) { c.Redlock.Connections = []RedisConfig{{}} }, "redlock.connections[0]"},
		{"Drift", func(c *Config) { c.Redlock.ClockDriftFactor = 1 }, "clock_drift_factor"},
		{"QuorumTooLarge", func(c *Config) {
			c.Redlock.Connections = []RedisConfig{{Addrs: []string{"a:1"}}}
			c.Redlock.Quorum = 2
		}, "redlock.quorum"},
		{"LogLevel", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"LogFormat", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Defaults.TTL = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "defaults.ttl")
	assert.Contains(t, err.Error(), "log.format")
}

func TestParse_ValidationFails(t *testing.T) {
	_, err := Parse([]byte(`{"store": {"driver": "redis"}}`), FormatJSON)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
