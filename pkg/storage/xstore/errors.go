package xstore

import (
	"errors"
	"strings"
)

var (
	// ErrNilClient 传入了 nil 的 Redis 或 etcd 客户端。
	ErrNilClient = errors.New("xstore: client is nil")

	// ErrEmptyKey 键为空。
	ErrEmptyKey = errors.New("xstore: key is empty")

	// ErrNotInteger 对非整数值执行了 Increment/Decrement。
	ErrNotInteger = errors.New("xstore: value is not an integer")

	// ErrUnsupported 被装饰的存储不具备所请求的可选能力。
	ErrUnsupported = errors.New("xstore: operation not supported by underlying store")

	// ErrBreakerOpen 熔断器处于打开状态，请求被快速拒绝。
	ErrBreakerOpen = errors.New("xstore: circuit breaker open")
)

// isRedisNotInteger 识别 Redis INCRBY 对非整数值的报错。
func isRedisNotInteger(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not an integer")
}
