// Package xretry 提供锁获取轮询所需的重试与退避策略。
//
// # 设计理念
//
// xretry 将"是否继续"与"等多久"拆成两个接口：
//   - RetryPolicy：判断一次失败后是否继续尝试
//   - BackoffPolicy：计算下一次尝试前的等待时间
//
// Retryer 把两者组合起来，底层交给 [avast/retry-go/v5] 执行。
// xdlock 的阻塞获取驱动即建立在 Retryer 之上：AlwaysRetry 配合
// 带加性抖动的 ExponentialBackoff，由上下文截止时间终止循环。
//
// # 退避公式
//
//	delay = min(initial × multiplier^(attempt-1), max) + rand[0, maxJitter)
//
// 比例抖动（WithJitter）作用于封顶前的基础延迟，加性抖动（WithMaxJitter）
// 在封顶之后叠加，二者可同时使用。
//
// # 错误分类
//
//   - NewPermanentError(err)：不再重试
//   - Unrecoverable(err)：retry-go 风格的不可恢复错误，同样立即终止
//
// [avast/retry-go/v5]: https://github.com/avast/retry-go
package xretry
