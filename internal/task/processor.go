package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ChainGuard/internal/agent"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/observability/alerting"
	"ChainGuard/internal/observability/metrics"
	"ChainGuard/internal/verdict"
	"ChainGuard/pkg/logger"
)

// Executor 定义了处理器所需的智能体能力。
type Executor interface {
	Execute(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// 任务结果在指标中的取值。
const (
	outcomeSucceeded = "succeeded"
	outcomeDegraded  = "degraded"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
)

// Processor 负责从队列消费任务并交给智能体执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	verdicts    *verdict.Emitter
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithVerdictEmitter 配置风险判定的发布器。
func WithVerdictEmitter(emitter *verdict.Emitter) ProcessorOption {
	return func(p *Processor) {
		p.verdicts = emitter
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	run, execErr := p.executor.Execute(ctx, agent.RunRequest{
		Agent:    task.Agent,
		Input:    task.Input,
		Metadata: cloneMetadata(task.Metadata),
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}
	return p.complete(ctx, task, run, outcomeSucceeded)
}

// complete 写入成功结果并发布判定。写入失败时任务回到队列。
func (p *Processor) complete(ctx context.Context, task *Task, run *agent.RunResult, outcome string) error {
	record := buildResult(run)
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		terminal := task.Attempts >= task.MaxRetries
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), terminal); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		if terminal {
			metrics.ObserveTask(task.Agent, outcomeFailed)
			return nil
		}
		metrics.ObserveTask(task.Agent, outcomeRetry)
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", task.ID))
		}
		logger.Audit().Warn("任务标记成功失败后重试",
			slog.String("task_id", task.ID),
			slog.String("agent", task.Agent),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveTask(task.Agent, outcome)

	if run != nil && run.Assessment != nil {
		v := verdict.FromAssessment(verdict.SourceTask, run.Assessment)
		v.TaskID = task.ID
		v.Agent = task.Agent
		if err := p.verdicts.Emit(ctx, v); err != nil {
			// 判定发布失败不影响任务结果。
			logger.L().Error("发布任务判定失败", slog.Any("error", err), slog.String("task_id", task.ID))
		}
	}

	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("agent", task.Agent),
		slog.String("outcome", outcome),
		slog.String("risk_level", record.Level),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if terminal && p.recovery != nil {
		fallback, recErr := p.recovery.Recover(ctx, task, execErr)
		switch {
		case recErr != nil:
			wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "任务补偿失败")
			logger.L().Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		case fallback != nil:
			logger.Audit().Warn("任务降级完成",
				slog.String("task_id", task.ID),
				slog.String("agent", task.Agent),
				slog.String("cause", execErr.Error()),
			)
			p.emitAlert(ctx, task, code, execErr, "degraded")
			return p.complete(ctx, task, fallback, outcomeDegraded)
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("agent", task.Agent),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "non_retryable"
		}
	}
	p.emitAlert(ctx, task, code, execErr, stage)

	if terminal {
		metrics.ObserveTask(task.Agent, outcomeFailed)
		return nil
	}
	metrics.ObserveTask(task.Agent, outcomeRetry)
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logDebug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

// buildResult 把智能体输出压缩成可持久化的任务结果。
func buildResult(run *agent.RunResult) ExecutionResult {
	if run == nil {
		return ExecutionResult{}
	}
	record := ExecutionResult{Summary: run.Summary, Reply: run.Reply}
	if run.Assessment != nil {
		record.Level = string(run.Assessment.Level)
		record.Score = run.Assessment.Score
	}
	if len(run.Steps) > 0 {
		if payload, err := json.Marshal(run.Steps); err == nil {
			record.Payload = payload
		}
	}
	return record
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	p.logger.Debug(msg, args...)
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	if task.Agent != "" {
		metadata["agent"] = task.Agent
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
