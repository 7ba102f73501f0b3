// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 分布式锁协议族（简单、所有权校验、可重入、读写、信号量、公平、
//     Redlock、栅栏令牌、分片、多资源、看门狗、租约）
//   - xcron: 锁监督器，按周期驱动续期与公平队列轮询
//
// 设计原则：
//   - 互斥完全依赖存储层的原子操作，不依赖进程内线程模型
//   - 锁对象不自行调度后台任务，续期与排队推进由监督器显式驱动
//   - 所有失败都返回给直接调用方，并同步发出观测事件
package distributed
