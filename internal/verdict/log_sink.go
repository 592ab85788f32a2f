package verdict

import (
	"context"
	"log/slog"
	"strings"

	"ChainGuard/pkg/logger"
)

// LogSink 将判定写入审计日志，未配置 Kafka 时使用。
type LogSink struct {
	log *slog.Logger
}

// NewLogSink 创建写入审计日志的 Sink。
func NewLogSink() *LogSink {
	return &LogSink{log: logger.Audit()}
}

// Publish 实现 Sink。
func (s *LogSink) Publish(_ context.Context, v Verdict) error {
	s.log.Info("风险判定",
		slog.String("verdict_id", v.ID),
		slog.String("source", v.Source),
		slog.String("task_id", v.TaskID),
		slog.String("address", v.Address),
		slog.Float64("risk_score", v.Score),
		slog.String("risk_level", string(v.Level)),
		slog.String("factors", strings.Join(v.Factors, ",")),
	)
	return nil
}

// Close 实现 Sink。
func (s *LogSink) Close() error { return nil }

var _ Sink = (*LogSink)(nil)
