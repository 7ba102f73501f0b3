package xretry

import retry "github.com/avast/retry-go/v5"

// retry-go 类型别名，调用方无需直接依赖 retry-go。
type (
	// Option retry-go 配置选项
	Option = retry.Option

	// DelayContext 传给 DelayType 回调的上下文
	DelayContext = retry.DelayContext
)

// retry-go 配置函数
var (
	Attempts       = retry.Attempts
	UntilSucceeded = retry.UntilSucceeded
	DelayType      = retry.DelayType
	OnRetry        = retry.OnRetry
	RetryIf        = retry.RetryIf
	Context        = retry.Context
	LastErrorOnly  = retry.LastErrorOnly
)

// 不可恢复错误
var (
	// Unrecoverable 包装后的错误会立即终止重试
	Unrecoverable = retry.Unrecoverable

	// IsRecoverable 判断错误是否未被 Unrecoverable 包装
	IsRecoverable = retry.IsRecoverable
)
