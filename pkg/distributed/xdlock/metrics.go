package xdlock

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationVersion Meter 与 Tracer 的版本号
const instrumentationVersion = "0.1.0"

const (
	metricNameAcquireTotal = "xdlock.acquire.total"
	metricNameReleaseTotal = "xdlock.release.total"
	metricNameTimeoutTotal = "xdlock.timeout.total"
	metricNameExtendTotal  = "xdlock.extend.total"
	metricNameHeldDuration = "xdlock.held.duration"
)

// heldBuckets 持有时长直方图的桶边界（秒）
var heldBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300}

// MetricsSink 把锁事件转为 OpenTelemetry 指标。
//
// 只记录类型与结果，不记录 key，避免高基数。
type MetricsSink struct {
	acquireTotal metric.Int64Counter
	releaseTotal metric.Int64Counter
	timeoutTotal metric.Int64Counter
	extendTotal  metric.Int64Counter
	heldDuration metric.Float64Histogram
}

var _ EventSink = (*MetricsSink)(nil)

// NewMetricsSink 创建指标接收器。
// mp 为 nil 时返回 nil，nil 接收器的 Emit 不做任何事。
func NewMetricsSink(mp metric.MeterProvider) (*MetricsSink, error) {
	if mp == nil {
		return nil, nil
	}
	meter := mp.Meter("xdlock", metric.WithInstrumentationVersion(instrumentationVersion))

	s := &MetricsSink{}
	var err error
	if s.acquireTotal, err = meter.Int64Counter(metricNameAcquireTotal,
		metric.WithDescription("锁获取尝试次数"), metric.WithUnit("{acquire}")); err != nil {
		return nil, err
	}
	if s.releaseTotal, err = meter.Int64Counter(metricNameReleaseTotal,
		metric.WithDescription("锁释放次数"), metric.WithUnit("{release}")); err != nil {
		return nil, err
	}
	if s.timeoutTotal, err = meter.Int64Counter(metricNameTimeoutTotal,
		metric.WithDescription("阻塞获取超时次数"), metric.WithUnit("{timeout}")); err != nil {
		return nil, err
	}
	if s.extendTotal, err = meter.Int64Counter(metricNameExtendTotal,
		metric.WithDescription("锁续期次数"), metric.WithUnit("{extend}")); err != nil {
		return nil, err
	}
	if s.heldDuration, err = meter.Float64Histogram(metricNameHeldDuration,
		metric.WithDescription("锁持有时长"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(heldBuckets...)); err != nil {
		return nil, err
	}
	return s, nil
}

// Emit 实现 EventSink
func (s *MetricsSink) Emit(ctx context.Context, ev Event) {
	if s == nil {
		return
	}

	// 调用方 ctx 取消后指标仍需记录
	ctx = context.WithoutCancel(ctx)
	typ := attribute.String(attrType, ev.Type.String())

	switch ev.Kind {
	case EventAcquired:
		s.acquireTotal.Add(ctx, 1, metric.WithAttributes(typ, attribute.Bool(attrAcquired, true)))
	case EventFailed:
		if ev.Reason == reasonOwnership {
			s.releaseTotal.Add(ctx, 1, metric.WithAttributes(typ, attribute.Bool(attrOwned, false)))
			return
		}
		s.acquireTotal.Add(ctx, 1, metric.WithAttributes(typ, attribute.Bool(attrAcquired, false)))
	case EventReleased:
		s.releaseTotal.Add(ctx, 1, metric.WithAttributes(typ, attribute.Bool(attrOwned, true)))
		s.heldDuration.Record(ctx, ev.HeldFor.Seconds(), metric.WithAttributes(typ))
	case EventTimeout:
		s.timeoutTotal.Add(ctx, 1, metric.WithAttributes(typ))
	case EventExtended:
		s.extendTotal.Add(ctx, 1, metric.WithAttributes(typ))
	}
}
