// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，内置文件轮转与运行时级别调整
//
// 锁的指标与链路追踪直接使用 OpenTelemetry API，见 xdlock.MetricsSink 与 Manager.Run。
package observability
