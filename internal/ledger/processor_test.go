package ledger

import (
	"context"
	stdErrors "errors"
	"testing"

	"AgentGov-Core/internal/bounds"
	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/registry"
)

func registryWithDisabledEmail() (*registry.Registry, error) {
	return registry.New([]registry.Action{
		{
			Name:          "send-email",
			AutonomyLevel: registry.AutonomyAutonomous,
			RiskLevel:     registry.RiskLow,
			Reversible:    true,
			Enabled:       false,
			MinConfidence: 0.6,
		},
	})
}

func TestProcessorHandleSuccess(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	proposal, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Params:     map[string]any{"to": "lead@example.com"},
		Reasoning:  Reasoning{Confidence: 0.85},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	var seen Invocation
	handler := HandlerFunc(func(_ context.Context, inv Invocation) (map[string]any, error) {
		seen = inv
		return map[string]any{"message_id": "m-1"}, nil
	})
	processor := NewProcessor(handler, store, nil, bounds.NewGate(newTestRegistry(t)))

	if err := processor.handle(ctx, proposal.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if seen.ProposalID != proposal.ID || seen.Params["to"] != "lead@example.com" {
		t.Fatalf("执行方收到的调用不完整: %+v", seen)
	}

	execution, err := store.GetExecutionByProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetExecutionByProposal: %v", err)
	}
	if !execution.Success || !execution.WithinBounds || execution.Outcome != OutcomePending {
		t.Fatalf("执行记录字段错误: %+v", execution)
	}
	updated, err := store.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if updated.Result["message_id"] != "m-1" {
		t.Fatalf("提案结果未回写: %+v", updated.Result)
	}
}

func TestProcessorHandleFailureRecordsExecution(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	proposal, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Reasoning:  Reasoning{Confidence: 0.85},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	handler := HandlerFunc(func(context.Context, Invocation) (map[string]any, error) {
		return nil, xerrors.New(CodeExecutionFailed, "smtp unreachable")
	})
	processor := NewProcessor(handler, store, nil, bounds.NewGate(newTestRegistry(t)))

	// 失败已落账，不应要求重投。
	if err := processor.handle(ctx, proposal.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	execution, err := store.GetExecutionByProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetExecutionByProposal: %v", err)
	}
	if execution.Success {
		t.Fatal("失败执行不应标记为成功")
	}
	if execution.ErrorCode != string(CodeExecutionFailed) {
		t.Fatalf("错误码未记录: %+v", execution)
	}
	if !execution.WithinBounds {
		t.Fatalf("执行方失败发生在边界门放行之后: %+v", execution)
	}
}

func TestProcessorSkipsUnapprovedAndReplays(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	pending, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "reindex-crm",
		Reasoning:  Reasoning{Confidence: 0.7},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	calls := 0
	handler := HandlerFunc(func(context.Context, Invocation) (map[string]any, error) {
		calls++
		return nil, nil
	})
	processor := NewProcessor(handler, store, nil, bounds.NewGate(newTestRegistry(t)))

	if err := processor.handle(ctx, pending.ID); err != nil {
		t.Fatalf("handle(pending): %v", err)
	}
	if calls != 0 {
		t.Fatal("pending 提案不应被执行")
	}
	if _, err := store.GetExecutionByProposal(ctx, pending.ID); !stdErrors.Is(err, ErrProposalNotFound) {
		t.Fatalf("pending 提案不应有执行记录: %v", err)
	}

	approved, err := service.Review(ctx, pending.ID, true, "reviewer-1", "ok")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if err := processor.handle(ctx, approved.ID); err != nil {
		t.Fatalf("handle(approved): %v", err)
	}
	if err := processor.handle(ctx, approved.ID); err != nil {
		t.Fatalf("handle(replay): %v", err)
	}
	if calls != 1 {
		t.Fatalf("消息重放不应重复执行, 实际调用 %d 次", calls)
	}

	if err := processor.handle(ctx, "missing"); err != nil {
		t.Fatalf("未知提案应被跳过: %v", err)
	}
}

func TestProcessorRechecksGateBeforeExecution(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	proposal, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Reasoning:  Reasoning{Confidence: 0.85},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// 执行时动作已被运营停用，处理器必须拦截。
	rechecked, err := registryWithDisabledEmail()
	if err != nil {
		t.Fatalf("registryWithDisabledEmail: %v", err)
	}

	calls := 0
	handler := HandlerFunc(func(context.Context, Invocation) (map[string]any, error) {
		calls++
		return nil, nil
	})
	processor := NewProcessor(handler, store, nil, bounds.NewGate(rechecked))

	if err := processor.handle(ctx, proposal.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if calls != 0 {
		t.Fatal("越界的提案不应交给执行方")
	}
	// 越界的执行不存在：被拦截的提案不产生执行记录。
	if _, err := store.GetExecutionByProposal(ctx, proposal.ID); !stdErrors.Is(err, ErrProposalNotFound) {
		t.Fatalf("拦截不应留下执行记录: %v", err)
	}
	updated, err := store.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if updated.Status != StatusApproved {
		t.Fatalf("拦截不应改动提案状态: %+v", updated)
	}
}

func TestRecoverPendingRequeuesApproved(t *testing.T) {
	service, store, queue := newTestService(t)
	ctx := context.Background()

	executed, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Reasoning:  Reasoning{Confidence: 0.85},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	stranded, err := service.Propose(ctx, ProposalRequest{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Reasoning:  Reasoning{Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	// 清空正常入队的消息，模拟崩溃后队列丢失。
	for len(queue.ch) > 0 {
		<-queue.ch
	}
	if err := store.CreateExecution(ctx, &Execution{
		ID:         "e-1",
		ProposalID: executed.ID,
		AgentID:    "agent-1",
		ActionName: "send-email",
		Success:    true,
	}); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	requeued, err := RecoverPending(ctx, store, queue)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("应只恢复未执行的提案, 实际 %d", requeued)
	}
	select {
	case id := <-queue.ch:
		if id != stranded.ID {
			t.Fatalf("恢复了错误的提案: %s", id)
		}
	default:
		t.Fatal("恢复的提案应已入队")
	}
}
