// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、轮转）
//   - 动态级别调整（运行时热更新）
//   - 锁相关的标准字段（lock_key、lock_type、owner）
//   - Discard Logger，供未注入日志的组件使用
//
// # 创建 Logger
//
// Builder 采用 first-error-wins：遇到第一个配置错误后，后续 Set 操作被跳过，
// 错误在 Build 时返回。
//
//	logger, cleanup, err := xlog.New().
//		SetLevel(xlog.LevelDebug).
//		SetFormat("json").
//		SetRotation("/var/log/xlocker/xlocker.log").
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
//	logger.Info(ctx, "lock acquired", xlog.LockKey("orders:42"), xlog.LockType("safe"))
//
// # 日志级别
//
// LevelDebug(-4)、LevelInfo(0)、LevelWarn(4)、LevelError(8)。
// 可通过 [ParseLevel] 从字符串解析，Level 实现 encoding.TextUnmarshaler，
// 配置文件可直接反序列化。
//
// # 日志轮转
//
// [Builder.SetRotation] 使用 lumberjack 按大小轮转，默认单文件 100MB、
// 保留 7 个备份、压缩旧文件。
package xlog
