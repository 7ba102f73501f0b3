// Package xdlock 提供基于原子 KV 存储的分布式锁协议族。
//
// # 设计理念
//
// 所有互斥都通过后端存储（xstore.Store）的原子原语实现：插入即占用、
// 原子计数、比较删除。进程内的 acquired 标记只是存储记录的本地缓存，
// 存储中带 TTL 的记录才是唯一可信的事实。
//
// xdlock 采用与 xsemaphore 相同的设计模式：
//   - 显式管理器：NewManager 绑定存储、事件、日志、指标与追踪
//   - 分派表：按类型名创建锁句柄，未知类型返回 ErrUnsupportedLockType
//   - 增值功能：阻塞获取、Run 临界区、事件、OpenTelemetry 指标与追踪
//
// # 锁类型
//
//	| 类型 | 存储记录 | 说明 |
//	|------|----------|------|
//	| simple | lock:simple:<k> = "1" | 释放不校验持有者 |
//	| safe | lock:safe:<k> = owner | 释放校验持有者，不匹配返回 ErrOwnershipViolation |
//	| reentrant | lock:reentrant:<k> + :owner:<owner> 计数 | 同一持有者可重入 |
//	| read / write | lock:readwrite:<k>:read / :write / :owners | 读写锁，不防写者饥饿 |
//	| semaphore | lock:semaphore:<k>:count + :owner:<owner> | 计数信号量 |
//	| fair | lock:fair:<k> + :queue + :position:<owner> | FIFO 排队，需轮询推进 |
//	| redlock | 每个节点 lock:redlock:<k> = owner | 多数派 + 时钟漂移补偿 |
//	| fencing | lock:fencing:<k> + :token | 单调递增的 fencing token |
//	| striped | lock:striped:<k>:shard:<i> | 分片 simple 锁 |
//	| multi | 每个 key 一把 safe 锁 | 排序后依次获取，失败回滚 |
//	| watchdog | lock:watchdog:<k> = owner | 可续期，间隔默认 TTL/2 |
//	| leased | lock:leased:<k> = owner | 本地租约到期即视为未持有 |
//
// # 句柄与并发
//
// 锁句柄不支持在多个调用方之间共享获取语义，需要并发尝试时请创建独立句柄。
// 句柄内部状态由互斥锁保护，以便续期任务（见 xcron）与持有者 goroutine
// 并存。事件在释放句柄内部锁之后投递，EventSink 可以安全地回调句柄方法。
//
// # 阻塞获取
//
// 设置 WithBlockTimeout 后，Manager.Acquire 以指数退避重试单次 Acquire：
// 延迟 = min(base × 2^attempt, cap) + [0, MaxJitter) 抖动，截止时间到达后
// 返回 ErrAcquisitionTimedOut 并发出 Timeout 事件。这是客户端轮询，
// 不存在服务端唤醒。
//
// # 续期与排队推进
//
// Watchdog、Leased 锁只提供 Renew 操作，公平锁与读写锁的等待方需要重复调用
// Acquire。调度由调用方或 xcron.Supervisor 负责，锁句柄内部不启动 goroutine。
//
// 详细使用示例请参考 example_test.go。
package xdlock
