// Package storage 提供锁状态的存储层。
//
// 子包列表：
//   - xstore: 原子键值存储契约，内置内存、Redis、etcd 三种后端及熔断装饰器
//
// 设计原则：
//   - 每个写操作都是单次原子调用，不在存储层之上做 check-then-act
//   - 可选能力（比较删除、比较交换）通过接口断言发现
//   - 传输错误原样包装上抛，不做静默恢复
package storage
