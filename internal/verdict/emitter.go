package verdict

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/observability/alerting"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/internal/risk"
	"ChainGuard/pkg/logger"
)

// Emitter 把判定写入 Sink，并为高风险判定派发告警。
type Emitter struct {
	sink   Sink
	alerts alerting.Dispatcher
	log    *slog.Logger
}

// NewEmitter 创建 Emitter。sink 为空时使用 LogSink，alerts 可为空。
func NewEmitter(sink Sink, alerts alerting.Dispatcher) *Emitter {
	if sink == nil {
		sink = NewLogSink()
	}
	return &Emitter{sink: sink, alerts: alerts, log: logger.Named("verdict")}
}

// Emit 发布判定。告警失败只记录日志，写入 Sink 失败会返回错误。
func (e *Emitter) Emit(ctx context.Context, v Verdict) error {
	if e == nil {
		return nil
	}
	metrics.ObserveVerdict(v.Source, string(v.Level))

	if v.Level == risk.LevelHigh && e.alerts != nil {
		attrs := xerrors.AttributesOf(alerting.CodeHighRisk)
		event := alerting.Event{
			Code:       alerting.CodeHighRisk,
			Message:    v.Justification,
			Severity:   attrs.Severity,
			TaskID:     v.TaskID,
			Address:    v.Address,
			RiskLevel:  string(v.Level),
			RiskScore:  v.Score,
			Metadata:   map[string]string{"source": v.Source, "verdict_id": v.ID},
			OccurredAt: v.IssuedAt,
		}
		if v.Agent != "" {
			event.Metadata["agent"] = v.Agent
		}
		if err := e.alerts.Notify(ctx, event); err != nil {
			e.log.Error("高风险告警发送失败", slog.Any("error", err), slog.String("address", v.Address))
		}
	}

	if err := e.sink.Publish(ctx, v); err != nil {
		e.log.Error("发布风险判定失败", slog.Any("error", err), slog.String("verdict_id", v.ID))
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, fmt.Sprintf("发布判定 %s 失败", v.ID))
	}
	return nil
}

// Close 关闭底层 Sink。
func (e *Emitter) Close() error {
	if e == nil || e.sink == nil {
		return nil
	}
	return e.sink.Close()
}
