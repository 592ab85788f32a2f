package task

import (
	"context"

	xerrors "ChainGuard/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
//
// MarkFailed 在 terminal 为 false 时把任务放回 pending 等待重投，
// 为 true 时任务进入 failed 终态，之后的 Claim 返回 ErrTaskExhausted。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
