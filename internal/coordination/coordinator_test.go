package coordination

import (
	"context"
	"testing"
	"time"

	"AgentGov-Core/internal/bounds"
	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/internal/registry"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *ledger.Service, *ledger.MemoryStore) {
	t.Helper()
	reg, err := registry.New([]registry.Action{
		{
			Name:          "send-email",
			AutonomyLevel: registry.AutonomyAutonomous,
			RiskLevel:     registry.RiskLow,
			Reversible:    true,
			Enabled:       true,
			MinConfidence: 0.6,
		},
		{
			Name:          "reindex-crm",
			AutonomyLevel: registry.AutonomySupervised,
			RiskLevel:     registry.RiskMedium,
			Reversible:    true,
			Enabled:       true,
			MinConfidence: 0.5,
		},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	store := ledger.NewMemoryStore()
	queue := ledger.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	svc := ledger.NewService(store, queue, reg, bounds.NewGate(reg))
	coord := NewCoordinator(svc, store, WithPollInterval(5*time.Millisecond))
	return coord, svc, store
}

func newParentProposal(t *testing.T, svc *ledger.Service) *ledger.Proposal {
	t.Helper()
	parent, err := svc.Propose(context.Background(), ledger.ProposalRequest{
		AgentID:    "orchestrator",
		ActionName: "reindex-crm",
		Reasoning:  ledger.Reasoning{Trigger: "stale index", Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("Propose parent: %v", err)
	}
	return parent
}

func finishSubTask(t *testing.T, store *ledger.MemoryStore, subTaskID string, success bool, result map[string]any) {
	t.Helper()
	err := store.CreateExecution(context.Background(), &ledger.Execution{
		ID:         "exec-" + subTaskID,
		ProposalID: subTaskID,
		AgentID:    "agent-b",
		ActionName: "send-email",
		Success:    success,
		Result:     result,
	})
	if err != nil {
		// Errorf 而不是 Fatalf：该辅助函数也会在后台协程里调用。
		t.Errorf("CreateExecution: %v", err)
	}
}

func TestSpawnSubTaskLinksParent(t *testing.T) {
	coord, svc, _ := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	subTaskID, err := coord.SpawnSubTask(ctx, parent.ID, SubTask{
		TargetAgentID: "agent-b",
		ActionName:    "send-email",
		Params:        map[string]any{"to": "ops@example.com"},
		Reasoning:     ledger.Reasoning{Trigger: "delegated", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("SpawnSubTask: %v", err)
	}

	child, err := svc.Get(ctx, subTaskID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if child.ParentID != parent.ID {
		t.Fatalf("child.ParentID = %q, want %q", child.ParentID, parent.ID)
	}
	if child.AgentID != "agent-b" {
		t.Fatalf("child.AgentID = %q, want agent-b", child.AgentID)
	}
	if child.CoordinationStatus != ledger.CoordinationIndependent {
		t.Fatalf("child.CoordinationStatus = %q, want independent", child.CoordinationStatus)
	}

	parentNow, err := svc.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parentNow.CoordinationStatus != ledger.CoordinationCoordinating {
		t.Fatalf("parent.CoordinationStatus = %q, want coordinating", parentNow.CoordinationStatus)
	}
}

func TestSpawnSubTaskUnknownParent(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.SpawnSubTask(context.Background(), "no-such-parent", SubTask{
		TargetAgentID: "agent-b",
		ActionName:    "send-email",
		Reasoning:     ledger.Reasoning{Trigger: "delegated", Confidence: 0.9},
	})
	if err == nil {
		t.Fatal("expected error for unknown parent")
	}
}

func TestWaitForSubTaskReturnsResult(t *testing.T) {
	coord, svc, store := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	subTaskID, err := coord.SpawnSubTask(ctx, parent.ID, SubTask{
		TargetAgentID: "agent-b",
		ActionName:    "send-email",
		Reasoning:     ledger.Reasoning{Trigger: "delegated", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("SpawnSubTask: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		finishSubTask(t, store, subTaskID, true, map[string]any{"sent": true})
	}()

	result, err := coord.WaitForSubTask(ctx, subTaskID, time.Second)
	if err != nil {
		t.Fatalf("WaitForSubTask: %v", err)
	}
	if result.TimedOut {
		t.Fatal("result.TimedOut = true, want completed result")
	}
	if !result.Success {
		t.Fatal("result.Success = false, want true")
	}
	if result.Result["sent"] != true {
		t.Fatalf("result.Result = %v, want sent=true", result.Result)
	}
	if !result.Terminal() {
		t.Fatal("result.Terminal() = false, want true")
	}

	child, err := svc.Get(ctx, subTaskID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if child.CoordinationStatus != ledger.CoordinationComplete {
		t.Fatalf("child.CoordinationStatus = %q, want complete", child.CoordinationStatus)
	}
}

func TestWaitForSubTaskTimeoutIsData(t *testing.T) {
	coord, svc, store := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	subTaskID, err := coord.SpawnSubTask(ctx, parent.ID, SubTask{
		TargetAgentID: "agent-b",
		ActionName:    "send-email",
		Reasoning:     ledger.Reasoning{Trigger: "delegated", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("SpawnSubTask: %v", err)
	}

	result, err := coord.WaitForSubTask(ctx, subTaskID, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForSubTask: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("result.TimedOut = false, want true")
	}
	if result.Terminal() {
		t.Fatal("timed-out result must not be terminal")
	}

	// 超时只对等待方生效，晚到的结果在下次等待时照常拿到。
	finishSubTask(t, store, subTaskID, true, map[string]any{"sent": true})
	late, err := coord.WaitForSubTask(ctx, subTaskID, time.Second)
	if err != nil {
		t.Fatalf("WaitForSubTask after late result: %v", err)
	}
	if late.TimedOut || !late.Success {
		t.Fatalf("late result = %+v, want completed success", late)
	}
}

func TestWaitForSubTaskRejectedIsTerminal(t *testing.T) {
	coord, svc, _ := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	// reindex-crm 是 supervised 动作，子提案停在 pending 等待审核。
	subTaskID, err := coord.SpawnSubTask(ctx, parent.ID, SubTask{
		TargetAgentID: "agent-b",
		ActionName:    "reindex-crm",
		Reasoning:     ledger.Reasoning{Trigger: "delegated", Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("SpawnSubTask: %v", err)
	}
	if _, err := svc.Review(ctx, subTaskID, false, "reviewer-1", "not now"); err != nil {
		t.Fatalf("Review: %v", err)
	}

	result, err := coord.WaitForSubTask(ctx, subTaskID, time.Second)
	if err != nil {
		t.Fatalf("WaitForSubTask: %v", err)
	}
	if result.Status != ledger.StatusRejected {
		t.Fatalf("result.Status = %q, want rejected", result.Status)
	}
	if !result.Terminal() {
		t.Fatal("rejected result must be terminal")
	}
	if result.Success {
		t.Fatal("rejected result must not report success")
	}
}

func TestCoordinateAgentsSpawnsAll(t *testing.T) {
	coord, svc, _ := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	ids, err := coord.CoordinateAgents(ctx, parent.ID, []SubTask{
		{TargetAgentID: "agent-b", ActionName: "send-email", Reasoning: ledger.Reasoning{Trigger: "fanout", Confidence: 0.9}},
		{TargetAgentID: "agent-c", ActionName: "send-email", Reasoning: ledger.Reasoning{Trigger: "fanout", Confidence: 0.9}},
		{TargetAgentID: "agent-d", ActionName: "reindex-crm", Reasoning: ledger.Reasoning{Trigger: "fanout", Confidence: 0.8}},
	})
	if err != nil {
		t.Fatalf("CoordinateAgents: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("len(ids) = %d, want 3", len(ids))
	}

	for _, id := range ids {
		child, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if child.ParentID != parent.ID {
			t.Fatalf("child %s ParentID = %q, want %q", id, child.ParentID, parent.ID)
		}
	}

	parentNow, err := svc.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parentNow.CoordinationStatus != ledger.CoordinationCoordinating {
		t.Fatalf("parent.CoordinationStatus = %q, want coordinating", parentNow.CoordinationStatus)
	}
}

func TestGetSubTaskResults(t *testing.T) {
	coord, svc, store := newTestCoordinator(t)
	ctx := context.Background()
	parent := newParentProposal(t, svc)

	// 叶子提案没有子任务，返回空切片。
	leaf, err := coord.GetSubTaskResults(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetSubTaskResults leaf: %v", err)
	}
	if len(leaf) != 0 {
		t.Fatalf("len(leaf) = %d, want 0", len(leaf))
	}

	ids, err := coord.CoordinateAgents(ctx, parent.ID, []SubTask{
		{TargetAgentID: "agent-b", ActionName: "send-email", Reasoning: ledger.Reasoning{Trigger: "fanout", Confidence: 0.9}},
		{TargetAgentID: "agent-c", ActionName: "send-email", Reasoning: ledger.Reasoning{Trigger: "fanout", Confidence: 0.9}},
	})
	if err != nil {
		t.Fatalf("CoordinateAgents: %v", err)
	}

	// 只有一个子任务完成时，父提案不能标记为 complete。
	finishSubTask(t, store, ids[0], true, map[string]any{"sent": true})
	partial, err := coord.GetSubTaskResults(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetSubTaskResults partial: %v", err)
	}
	if len(partial) != 2 {
		t.Fatalf("len(partial) = %d, want 2", len(partial))
	}
	parentNow, err := svc.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parentNow.CoordinationStatus == ledger.CoordinationComplete {
		t.Fatal("parent marked complete before all children finished")
	}

	finishSubTask(t, store, ids[1], false, map[string]any{"error": "bounce"})
	results, err := coord.GetSubTaskResults(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetSubTaskResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	successes := 0
	for _, result := range results {
		if !result.Terminal() {
			t.Fatalf("result %s not terminal", result.SubTaskID)
		}
		if result.Success {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}

	parentNow, err = svc.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if parentNow.CoordinationStatus != ledger.CoordinationComplete {
		t.Fatalf("parent.CoordinationStatus = %q, want complete", parentNow.CoordinationStatus)
	}
}
