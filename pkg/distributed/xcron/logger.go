package xcron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xlocker/pkg/observability/xlog"
)

// cronLogger 把 cron.Logger 适配到 xlog。
//
// cron 内部的 Info 日志（调度、唤醒）非常频繁，降为 Debug。
type cronLogger struct {
	logger xlog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(context.Background(), msg, kvAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	attrs := append(kvAttrs(keysAndValues), xlog.Err(err))
	l.logger.Error(context.Background(), msg, attrs...)
}

// kvAttrs 把 k1, v1, k2, v2 形式的参数转为 slog.Attr
func kvAttrs(kv []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, slog.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		attrs = append(attrs, slog.Any("!BADKEY", kv[len(kv)-1]))
	}
	return attrs
}
