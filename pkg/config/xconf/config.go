package xconf

import "time"

// Format 定义配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// 存储驱动。
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverEtcd   = "etcd"
)

// Config xlocker 配置。
//
//	store:
//	  driver: redis
//	  redis: {addrs: ["127.0.0.1:6379"], db: 0}
//	defaults: {ttl: 60s, type: safe, block_timeout: 5s}
//	redlock:
//	  connections:
//	    - addrs: ["10.0.0.1:6379"]
//	    - addrs: ["10.0.0.2:6379"]
//	    - addrs: ["10.0.0.3:6379"]
//	log: {level: info, format: text}
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Defaults DefaultsConfig `koanf:"defaults"`
	Redlock  RedlockConfig  `koanf:"redlock"`
	Log      LogConfig      `koanf:"log"`
}

// StoreConfig 主存储
type StoreConfig struct {
	// Driver memory / redis / etcd，默认 memory
	Driver string      `koanf:"driver"`
	Redis  RedisConfig `koanf:"redis"`
	Etcd   EtcdConfig  `koanf:"etcd"`
}

// RedisConfig 单个 Redis 连接。多个地址时按集群 / 哨兵方式连接。
type RedisConfig struct {
	Addrs      []string `koanf:"addrs"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
	DB         int      `koanf:"db"`
	MasterName string   `koanf:"master_name"`
}

// EtcdConfig etcd 连接
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// DefaultsConfig 锁的默认参数，作用于所有未显式覆盖的获取请求。
type DefaultsConfig struct {
	TTL          time.Duration `koanf:"ttl"`
	Type         string        `koanf:"type"`
	BlockTimeout time.Duration `koanf:"block_timeout"`
	Permits      int           `koanf:"permits"`
	ShardCount   int           `koanf:"shard_count"`
}

// RedlockConfig Redlock 的独立节点。
//
// Connections 为空时 Redlock 使用主存储作为唯一节点。
type RedlockConfig struct {
	Connections      []RedisConfig `koanf:"connections"`
	ClockDriftFactor float64       `koanf:"clock_drift_factor"`
	// Quorum 为 0 时取 ⌊N/2⌋+1
	Quorum int `koanf:"quorum"`
	// BreakerFailures 节点连续失败多少次后熔断，0 表示不启用熔断
	BreakerFailures uint32 `koanf:"breaker_failures"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	Compress   bool   `koanf:"compress"`
}

// Default 返回默认配置：内存存储、60s TTL、simple 锁、非阻塞获取。
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverMemory,
			Etcd:   EtcdConfig{DialTimeout: 5 * time.Second},
		},
		Defaults: DefaultsConfig{
			TTL:        60 * time.Second,
			Type:       "simple",
			Permits:    1,
			ShardCount: 16,
		},
		Redlock: RedlockConfig{
			ClockDriftFactor: 0.01,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
