// Package xcron 为 xdlock 的锁句柄提供周期性调度。
//
// # 概述
//
// xdlock 的锁本身不启动任何后台协程：watchdog / leased 锁需要外部按
// RenewInterval 调用 Renew，公平锁和读写锁的等待者需要外部反复调用
// Acquire。xcron 基于 [robfig/cron/v3] 提供这个外部调度器。
//
// # 核心概念
//
//   - Supervisor: 调度器，持有一个 *cron.Cron
//   - Watch: 按续期间隔调度 Renew，续期失败或锁丢失时移除任务并回调 OnLost
//   - Poll: 按固定间隔调度 Acquire，成功后通过返回的 channel 通知
//   - AddFunc: 按 cron 表达式执行任务，任务期间持有 watchdog 锁并自动续期，
//     多副本部署时同一时刻只有一个副本执行
//
// # 快速开始
//
//	sup := xcron.NewSupervisor(xcron.WithLogger(logger))
//	sup.Start()
//	defer func() { <-sup.Stop().Done() }()
//
//	l, _ := mgr.Acquire(ctx, xdlock.TypeWatchdog, []string{"leader"})
//	sup.Watch(l.(xdlock.Renewer), xcron.WithOnLost(func(_ xdlock.Renewer, err error) {
//	    cancelWork()
//	}))
//
// # 任务实现要求
//
// AddFunc 的任务函数必须响应 ctx 取消。锁续期失败时 xcron 通过取消 ctx
// 中止任务；不检查 ctx.Done() 的任务可能在锁失效后继续执行。
//
// [robfig/cron/v3]: https://github.com/robfig/cron
package xcron
