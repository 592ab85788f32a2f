package task

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "ChainGuard/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return xerrors.New(xerrors.CodeQueueFailure, "broker down")
}
func (failingProducer) Close() error { return nil }

func TestServiceSubmitValidation(t *testing.T) {
	known := func(name string) bool { return name == "scam_detection_agent" }
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3, WithAgentCheck(known))
	ctx := context.Background()

	if _, err := service.Submit(ctx, SubmitRequest{Agent: "scam_detection_agent", Input: "  "}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
	if _, err := service.Submit(ctx, SubmitRequest{Input: "0xabc"}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error without agent, got %v", err)
	}
	if _, err := service.Submit(ctx, SubmitRequest{Agent: "ghost", Input: "0xabc"}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for unknown agent, got %v", err)
	}
}

func TestServiceSubmitIsIdempotentByID(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue, 0, WithDefaultAgent("blockchain_security_coordinator"))
	ctx := context.Background()

	first, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Input: " 0xabc "})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Agent != "blockchain_security_coordinator" || first.Input != "0xabc" || first.MaxRetries != 3 {
		t.Fatalf("unexpected task %+v", first)
	}
	again, err := service.Submit(ctx, SubmitRequest{ID: "job-1", Input: "0xdef"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Input != "0xabc" {
		t.Fatalf("resubmission should return the existing task, got %+v", again)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected single publish, got %d", queue.Len())
	}

	stats, err := service.Stats(ctx)
	if err != nil || stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v err=%v", stats, err)
	}
}

func TestServiceSubmitMarksPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)
	ctx := context.Background()

	_, err := service.Submit(ctx, SubmitRequest{ID: "job-2", Agent: "scam_detection_agent", Input: "0xabc"})
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	task, getErr := store.Get(ctx, "job-2")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if task.Status != StatusFailed || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected task state %+v", task)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(4), 3)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := service.Submit(ctx, SubmitRequest{Agent: "scam_detection_agent", Input: "0xabc"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.MarkSucceeded(context.Background(), task.ID, ExecutionResult{Summary: "done"})
	}()

	done, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("unexpected status %s", done.Status)
	}

	if _, err := service.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
