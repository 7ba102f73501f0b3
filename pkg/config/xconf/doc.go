// Package xconf 加载 xlocker 的配置文件，基于 koanf 实现。
//
// # 设计理念
//
// xconf 只负责把 YAML / JSON 解析为类型化的 [Config]：
//   - 工厂函数：Load（文件）、Parse（字节数据）
//   - 文件中未出现的字段保留 [Default] 的值
//   - 解析后统一执行 [Config.Validate]，所有问题合并为一个错误返回
//
// # 支持的格式
//
//   - YAML（默认，推荐）：.yaml, .yml
//   - JSON：.json
//
// # Unmarshal
//
// 反序列化使用 mapstructure，允许弱类型转换；
// time.Duration 字段接受 "30s"、"1m" 这样的字符串。
//
// # 配置监视
//
// [Watch] 基于 fsnotify 监视配置文件所在目录，变更时重新 Load 并回调。
// 锁的 TTL、分片数等参数不能在持有锁时变更，回调方只应用日志级别这类可热更新的字段。
// Stop() 保证返回后不再有回调执行。
package xconf
