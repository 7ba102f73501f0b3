package xconf

// keyDelim 配置键的分隔符，例如 "store.redis.addrs"。
const keyDelim = "."

// structTag Unmarshal 时使用的结构体标签
const structTag = "koanf"

// loadOptions 加载选项
type loadOptions struct {
	overrides []func(*Config)
}

// Option 定义配置加载选项。
type Option func(*loadOptions)

func newLoadOptions(opts []Option) *loadOptions {
	o := &loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithOverride 在解析之后、校验之前修改配置。
// 用于命令行参数覆盖文件中的值，多次指定时按顺序执行。
func WithOverride(fn func(*Config)) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.overrides = append(o.overrides, fn)
		}
	}
}
