package learning

import (
	"context"
	"fmt"
	"math"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/ledger"
)

// HealthReport 是对单个智能体治理健康度的评分。
type HealthReport struct {
	AgentID          string  `json:"agent_id"`
	Score            int     `json:"score"`
	ApprovalRate     float64 `json:"approval_rate"`
	ExecSuccessRate  float64 `json:"exec_success_rate"`
	DecisionAccuracy float64 `json:"decision_accuracy"`
}

// FleetHealth 汇总多个智能体的健康度，并标记显著掉队者。
type FleetHealth struct {
	Reports  []HealthReport `json:"reports"`
	Insights []string       `json:"insights,omitempty"`
}

// healthGapThreshold 是触发横向对比洞察的最小分差。
const healthGapThreshold = 20

// ScoreHealth 把账本统计折算为 0-100 的健康分。三个维度各有基线，
// 低于基线的部分按权重扣分：批准率基线 70（权重 0.3）、执行成功率
// 基线 90（权重 0.4）、决策正确率基线 80（权重 0.3）。
func ScoreHealth(stats ledger.LedgerStats) HealthReport {
	report := HealthReport{
		ApprovalRate:     stats.ApprovalRate(),
		ExecSuccessRate:  stats.ExecutionSuccessRate(),
		DecisionAccuracy: stats.DecisionAccuracy(),
	}
	score := 100.0
	score -= 0.3 * math.Max(0, 70-report.ApprovalRate)
	score -= 0.4 * math.Max(0, 90-report.ExecSuccessRate)
	score -= 0.3 * math.Max(0, 80-report.DecisionAccuracy)
	report.Score = int(math.Round(score))
	return report
}

// EvaluateHealth 为每个智能体评分，并在最高分与最低分差距超过 20 分
// 时给出横向对比洞察。
func (e *Engine) EvaluateHealth(ctx context.Context, agentIDs []string) (FleetHealth, error) {
	fleet := FleetHealth{}
	for _, agentID := range agentIDs {
		stats, err := e.store.Stats(ctx, ledger.ListOptions{AgentID: agentID, CreatedGTE: e.windowStart()})
		if err != nil {
			return fleet, xerrors.Wrap(CodeLearningQueryFailed, err, "统计账本失败")
		}
		report := ScoreHealth(stats)
		report.AgentID = agentID
		fleet.Reports = append(fleet.Reports, report)
	}
	if len(fleet.Reports) < 2 {
		return fleet, nil
	}
	best, worst := fleet.Reports[0], fleet.Reports[0]
	for _, report := range fleet.Reports[1:] {
		if report.Score > best.Score {
			best = report
		}
		if report.Score < worst.Score {
			worst = report
		}
	}
	if best.Score-worst.Score > healthGapThreshold {
		fleet.Insights = append(fleet.Insights, fmt.Sprintf(
			"智能体 %s (%d 分) 显著落后于 %s (%d 分)，建议对照两者的失误模式与边界配置",
			worst.AgentID, worst.Score, best.AgentID, best.Score))
	}
	return fleet, nil
}
