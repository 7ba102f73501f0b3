// Package xstore 提供分布式锁使用的原子键值存储。
//
// # 存储契约
//
// [Store] 定义七个单键原子操作：InsertIfAbsent、Get、Set、Increment、
// Decrement、Delete、Exists。锁协议的正确性完全建立在这些操作之上。
//
// 可选能力通过接口断言发现：
//   - [CompareAndDeleter]：比较删除，Redlock 必需
//   - [CompareAndSwapper]：比较交换，用于队列/列表的乐观更新与带所有权校验的续期
//
// 装饰器会声明所有可选方法，因此探测能力时应使用 [AsCompareAndDeleter]
// 和 [AsCompareAndSwapper]，它们会穿透装饰器检查底层存储。
//
// # 后端
//
//   - [NewMemory]：进程内实现，惰性过期，可注入时钟，适合测试与单进程场景
//   - [NewRedis]：基于 go-redis v9，SET NX PX + 嵌入式 Lua 脚本
//   - [NewEtcd]：基于 etcd clientv3，事务 + 租约，TTL 按秒向上取整
//
// # 熔断
//
// [NewBreaker] 用 gobreaker 包装任意 Store。Redlock 的每个节点各包一层，
// 宕机节点会被快速失败，不拖慢整个法定人数的获取耗时。
//
// # 错误
//
// 传输错误通过 %w 原样包装上抛，调用方可用 errors.Is 判断原始错误。
package xstore
