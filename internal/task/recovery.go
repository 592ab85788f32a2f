package task

import (
	"context"

	"ChainGuard/internal/agent"
)

// RecoveryHandler 定义了在任务最终失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试降级执行。返回的结果按成功写入任务；返回 nil 则继续按失败处理。
	Recover(ctx context.Context, task *Task, cause error) (*agent.RunResult, error)
}

// ExecutorRecovery 使用备用执行器重跑任务，通常是未配置大模型的智能体，
// 只输出确定性工具的结果。
type ExecutorRecovery struct {
	Fallback Executor
}

// Recover 实现 RecoveryHandler 接口。
func (r ExecutorRecovery) Recover(ctx context.Context, task *Task, _ error) (*agent.RunResult, error) {
	if r.Fallback == nil || task == nil {
		return nil, nil
	}
	return r.Fallback.Execute(ctx, agent.RunRequest{
		Agent:    task.Agent,
		Input:    task.Input,
		Metadata: cloneMetadata(task.Metadata),
	})
}

var _ RecoveryHandler = ExecutorRecovery{}
