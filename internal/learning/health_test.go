package learning

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"AgentGov-Core/internal/ledger"
)

func TestScoreHealth(t *testing.T) {
	cases := []struct {
		name  string
		stats ledger.LedgerStats
		want  int
	}{
		{
			name:  "无样本满分",
			stats: ledger.LedgerStats{},
			want:  100,
		},
		{
			// 批准率 70 (不扣), 执行成功率 88 (扣 0.4×2), 正确率 80 (不扣)。
			name: "轻微扣分",
			stats: ledger.LedgerStats{
				Approved: 7, Rejected: 3,
				Executions: 25, ExecutionFailures: 3,
				OutcomeCorrect: 8, OutcomeIncorrect: 2,
			},
			want: 99,
		},
		{
			// 批准率 60 (扣 3), 成功率 85 (扣 2), 正确率 75 (扣 1.5) → 93.5 → 94。
			name: "三项均低于基线",
			stats: ledger.LedgerStats{
				Approved: 6, Rejected: 4,
				Executions: 20, ExecutionFailures: 3,
				OutcomeCorrect: 15, OutcomeIncorrect: 5,
			},
			want: 94,
		},
		{
			// 全面崩坏: 批准率 10, 成功率 0, 正确率 0 → 100−18−36−24 = 22。
			name: "全面崩坏",
			stats: ledger.LedgerStats{
				Approved: 1, Rejected: 9,
				Executions: 5, ExecutionFailures: 5,
				OutcomeCorrect: 0, OutcomeIncorrect: 5,
			},
			want: 22,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := ScoreHealth(tc.stats)
			if report.Score != tc.want {
				t.Fatalf("期望 %d 分, 实际 %d (%+v)", tc.want, report.Score, report)
			}
		})
	}
}

func TestEvaluateHealthFlagsLaggard(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// agent-good: 全部成功且正确。
	for i := 0; i < 5; i++ {
		seedExecution(t, store, fmt.Sprintf("p-good-%d", i), "agent-good", "send-email", 0.8, true, ledger.OutcomeCorrect, "")
	}
	// agent-bad: 全部失败且错误, 大量被拒。
	for i := 0; i < 5; i++ {
		seedExecution(t, store, fmt.Sprintf("p-bad-%d", i), "agent-bad", "send-email", 0.8, false, ledger.OutcomeIncorrect, "misc")
	}
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("p-bad-rej-%d", i)
		if err := store.CreateProposal(ctx, &ledger.Proposal{
			ID:         id,
			AgentID:    "agent-bad",
			ActionName: "send-email",
			Reasoning:  ledger.Reasoning{Confidence: 0.8},
			Priority:   ledger.PriorityMedium,
		}); err != nil {
			t.Fatalf("CreateProposal: %v", err)
		}
		if _, err := store.Review(ctx, id, ledger.StatusRejected, "reviewer", "n"); err != nil {
			t.Fatalf("Review: %v", err)
		}
	}

	fleet, err := engine.EvaluateHealth(ctx, []string{"agent-good", "agent-bad"})
	if err != nil {
		t.Fatalf("EvaluateHealth: %v", err)
	}
	if len(fleet.Reports) != 2 {
		t.Fatalf("期望 2 份报告, 实际 %d", len(fleet.Reports))
	}
	if fleet.Reports[0].Score != 100 {
		t.Fatalf("agent-good 应满分, 实际 %d", fleet.Reports[0].Score)
	}
	if len(fleet.Insights) != 1 || !strings.Contains(fleet.Insights[0], "agent-bad") {
		t.Fatalf("分差超过 20 应点名掉队者: %+v", fleet.Insights)
	}
}

func TestEvaluateHealthNoInsightForSingleAgent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fleet, err := engine.EvaluateHealth(context.Background(), []string{"agent-1"})
	if err != nil {
		t.Fatalf("EvaluateHealth: %v", err)
	}
	if len(fleet.Insights) != 0 {
		t.Fatalf("单个智能体不应有横向洞察: %+v", fleet.Insights)
	}
}
