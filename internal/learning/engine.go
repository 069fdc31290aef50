package learning

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/internal/observability/metrics"
	"AgentGov-Core/internal/registry"
	"AgentGov-Core/pkg/logger"
)

// Engine 从账本中提炼学习结论：重复失误、置信度校准、自治调整与
// 边界修订建议。引擎只读账本，产出写入学习库。
type Engine struct {
	store    ledger.Store
	repo     Repository
	registry *registry.Registry
	policy   Policy
}

// NewEngine 构造学习引擎。
func NewEngine(store ledger.Store, repo Repository, reg *registry.Registry, policy Policy) *Engine {
	policy.applyDefaults()
	return &Engine{store: store, repo: repo, registry: reg, policy: policy}
}

func (e *Engine) windowStart() int64 {
	return time.Now().AddDate(0, 0, -e.policy.WindowDays).Unix()
}

// DetectRepeatedMistakes 聚合窗口内被判定错误的执行记录，把出现次数
// 达到阈值的 (动作, 类别) 组合固化为活跃失误模式。只做识别，
// 规则派生见 MaterializeCorrectionRules。
func (e *Engine) DetectRepeatedMistakes(ctx context.Context, agentID string) ([]*MistakePattern, error) {
	groups, err := e.store.MistakeGroups(ctx, agentID, e.windowStart(), e.policy.MinOccurrences)
	if err != nil {
		return nil, xerrors.Wrap(CodeLearningQueryFailed, err, "聚合失误记录失败")
	}
	patterns := make([]*MistakePattern, 0, len(groups))
	for _, group := range groups {
		pattern := &MistakePattern{
			ID:         uuid.NewString(),
			AgentID:    group.AgentID,
			ActionName: group.ActionName,
			Category:   group.Category,
			Count:      group.Count,
			LastSeen:   group.LastSeen,
			Active:     true,
		}
		if err := e.repo.UpsertPattern(ctx, pattern); err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

// CreateCorrectionRule 由一个活跃失误模式派生纠正规则，并把该模式
// 置为已缓解。同一 (agent, action, category) 的规则只写一次，
// 重复调用返回已有规则且不再改动模式。
func (e *Engine) CreateCorrectionRule(ctx context.Context, pattern *MistakePattern) (*CorrectionRule, error) {
	if pattern == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "pattern 不能为空")
	}
	rule := &CorrectionRule{
		ID:         uuid.NewString(),
		AgentID:    pattern.AgentID,
		ActionName: pattern.ActionName,
		Category:   pattern.Category,
		Guidance: fmt.Sprintf("动作 %s 近期出现 %d 次 %s 类失误，提案前请先核对该类别的前置条件",
			pattern.ActionName, pattern.Count, pattern.Category),
	}
	if err := e.repo.SaveRule(ctx, rule); err != nil {
		if stdErrors.Is(err, ErrLearningConflict) {
			return e.findRule(ctx, pattern)
		}
		return nil, err
	}
	// 规则落地后模式视为已缓解；若同类失误再次成群，下一轮检测会
	// 重新激活该模式，已存在的规则不再掩盖它。
	pattern.Active = false
	if err := e.repo.UpsertPattern(ctx, pattern); err != nil {
		return nil, err
	}
	logger.Audit().Info("生成纠正规则",
		slog.String("agent_id", rule.AgentID),
		slog.String("action", rule.ActionName),
		slog.String("category", rule.Category),
	)
	return rule, nil
}

func (e *Engine) findRule(ctx context.Context, pattern *MistakePattern) (*CorrectionRule, error) {
	rules, err := e.repo.ListRules(ctx, pattern.AgentID, pattern.ActionName)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.Category == pattern.Category {
			return rule, nil
		}
	}
	return nil, nil
}

// MaterializeCorrectionRules 为每个仍然活跃的失误模式派生纠正规则。
func (e *Engine) MaterializeCorrectionRules(ctx context.Context, agentID string) ([]*CorrectionRule, error) {
	patterns, err := e.repo.ListPatterns(ctx, agentID, true)
	if err != nil {
		return nil, err
	}
	rules := make([]*CorrectionRule, 0, len(patterns))
	for _, pattern := range patterns {
		rule, err := e.CreateCorrectionRule(ctx, pattern)
		if err != nil {
			return rules, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// CalibrateConfidence 对窗口内的置信度样本做校准。样本足够且存在
// 非零调整时产出一条 threshold 学习记录；引擎把握超过
// AutoApplyConfidence 且变化量小于 AutoApplyMaxDelta 的调整自动生效，
// 其余保持 proposed 等待人工确认。
func (e *Engine) CalibrateConfidence(ctx context.Context, agentID string) (CalibrationReport, *Learning, error) {
	rows, err := e.store.CalibrationRows(ctx, agentID, e.windowStart())
	if err != nil {
		return CalibrationReport{}, nil, xerrors.Wrap(CodeLearningQueryFailed, err, "查询校准样本失败")
	}
	report := BuildCalibration(agentID, rows)
	if report.Samples < e.policy.MinCalibrationSamples || report.Adjustment == 0 {
		return report, nil, nil
	}

	// 样本越多，引擎对调整的把握越高。
	engineConfidence := float64(report.Samples) / float64(report.Samples+20)
	learning := &Learning{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Kind:       KindThreshold,
		State:      StateProposed,
		Confidence: engineConfidence,
		Delta:      report.Adjustment,
		Rationale: fmt.Sprintf("ECE=%.4f, 样本 %d 条, 建议阈值调整 %+.4f",
			report.ECE, report.Samples, report.Adjustment),
	}
	if engineConfidence > e.policy.AutoApplyConfidence && math.Abs(report.Adjustment) < e.policy.AutoApplyMaxDelta {
		learning.State = StateApplied
	}
	if err := e.repo.SaveLearning(ctx, learning); err != nil {
		return report, nil, err
	}
	logger.Audit().Info("置信度校准完成",
		slog.String("agent_id", agentID),
		slog.Float64("ece", report.ECE),
		slog.Float64("adjustment", report.Adjustment),
		slog.String("state", string(learning.State)),
	)
	return report, learning, nil
}

// EvaluateAutonomyAdjustments 按动作检查执行失败率。失败率越限的动作
// 产出下调建议；长期稳定且没有活跃失误模式的动作产出上调建议。
// 这里只产出建议：所有调整保持 proposed，经 ApplyLearning 确认后
// 才通过 EffectiveAutonomy 生效。
func (e *Engine) EvaluateAutonomyAdjustments(ctx context.Context, agentID string) ([]*Learning, error) {
	outcomes, err := e.store.ActionOutcomes(ctx, agentID, e.windowStart())
	if err != nil {
		return nil, xerrors.Wrap(CodeLearningQueryFailed, err, "聚合执行结果失败")
	}
	patterns, err := e.repo.ListPatterns(ctx, agentID, true)
	if err != nil {
		return nil, err
	}
	activeByAction := make(map[string]bool, len(patterns))
	for _, pattern := range patterns {
		activeByAction[pattern.ActionName] = true
	}

	var adjustments []*Learning
	for _, outcome := range outcomes {
		if outcome.Executed == 0 {
			continue
		}
		failureRate := float64(outcome.Failed) / float64(outcome.Executed)

		if failureRate > e.policy.DemoteFailureRate && outcome.Executed >= e.policy.DemoteMinExecutions {
			target, ok := e.demotionTarget(agentID, outcome.ActionName)
			if !ok {
				continue
			}
			learning := &Learning{
				ID:         uuid.NewString(),
				AgentID:    agentID,
				ActionName: outcome.ActionName,
				Kind:       KindAutonomy,
				State:      StateProposed,
				Confidence: failureRate,
				Autonomy:   target,
				Rationale: fmt.Sprintf("动作 %s 在 %d 次执行中失败率 %.0f%%，建议自治下调至 %s",
					outcome.ActionName, outcome.Executed, failureRate*100, target),
			}
			if err := e.repo.SaveLearning(ctx, learning); err != nil {
				return adjustments, err
			}
			adjustments = append(adjustments, learning)
			continue
		}

		if failureRate < e.policy.PromoteFailureRate && outcome.Executed >= e.policy.PromoteMinExecutions && !activeByAction[outcome.ActionName] {
			current, found, err := e.EffectiveAutonomy(ctx, agentID, outcome.ActionName)
			if err != nil {
				return adjustments, err
			}
			if !found {
				// 没有生效中的下调，无需上调。
				continue
			}
			target, ok := promotionTarget(current)
			if !ok {
				continue
			}
			learning := &Learning{
				ID:         uuid.NewString(),
				AgentID:    agentID,
				ActionName: outcome.ActionName,
				Kind:       KindAutonomy,
				State:      StateProposed,
				Confidence: 1 - failureRate,
				Autonomy:   target,
				Rationale: fmt.Sprintf("动作 %s 在 %d 次执行中失败率 %.0f%%，建议自治恢复至 %s",
					outcome.ActionName, outcome.Executed, failureRate*100, target),
			}
			if err := e.repo.SaveLearning(ctx, learning); err != nil {
				return adjustments, err
			}
			adjustments = append(adjustments, learning)
		}
	}
	return adjustments, nil
}

// demotionTarget 返回比当前有效等级低一档的目标等级。
func (e *Engine) demotionTarget(agentID, actionName string) (registry.AutonomyLevel, bool) {
	current := registry.AutonomyAutonomous
	if e.registry != nil {
		if action, err := e.registry.Get(actionName); err == nil {
			current = action.AutonomyLevel
		}
	}
	if override, found, err := e.EffectiveAutonomy(context.Background(), agentID, actionName); err == nil && found && override.Rank() < current.Rank() {
		current = override
	}
	switch current {
	case registry.AutonomyAutonomous:
		return registry.AutonomyBounded, true
	case registry.AutonomyBounded:
		return registry.AutonomySupervised, true
	case registry.AutonomySupervised:
		return registry.AutonomyNotifyOnly, true
	default:
		return "", false
	}
}

func promotionTarget(current registry.AutonomyLevel) (registry.AutonomyLevel, bool) {
	switch current {
	case registry.AutonomyNotifyOnly:
		return registry.AutonomySupervised, true
	case registry.AutonomySupervised:
		return registry.AutonomyBounded, true
	case registry.AutonomyBounded:
		return registry.AutonomyAutonomous, true
	default:
		return "", false
	}
}

// ApplyLearning 将 proposed 的学习记录标记为生效。自治调整不分方向，
// 都经由这里确认后才影响边界门。
func (e *Engine) ApplyLearning(ctx context.Context, id string) error {
	return e.repo.SetLearningState(ctx, id, StateApplied)
}

// RejectLearning 将学习记录标记为驳回。
func (e *Engine) RejectLearning(ctx context.Context, id string) error {
	return e.repo.SetLearningState(ctx, id, StateRejected)
}

// EffectiveAutonomy 返回生效中的自治覆盖，实现边界门的覆盖来源。
func (e *Engine) EffectiveAutonomy(ctx context.Context, agentID, actionName string) (registry.AutonomyLevel, bool, error) {
	learning, err := e.repo.LatestLearning(ctx, agentID, actionName, KindAutonomy, StateApplied)
	if err != nil {
		return "", false, err
	}
	if learning == nil {
		return "", false, nil
	}
	return learning.Autonomy, true, nil
}

// ThresholdDelta 返回生效中的置信度阈值调整。
// 校准学习按智能体落档，不区分动作。
func (e *Engine) ThresholdDelta(ctx context.Context, agentID, _ string) (float64, error) {
	learning, err := e.repo.LatestLearning(ctx, agentID, "", KindThreshold, StateApplied)
	if err != nil {
		return 0, err
	}
	if learning == nil {
		return 0, nil
	}
	return learning.Delta, nil
}

// SuggestBoundAdjustments 为拒绝率越限的动作生成边界修订建议，
// 每个动作恰好一条。建议只供人工参考，不会改动目录。
func (e *Engine) SuggestBoundAdjustments(ctx context.Context, agentID string) ([]BoundSuggestion, error) {
	outcomes, err := e.store.ActionOutcomes(ctx, agentID, e.windowStart())
	if err != nil {
		return nil, xerrors.Wrap(CodeLearningQueryFailed, err, "聚合提案去向失败")
	}
	var suggestions []BoundSuggestion
	for _, outcome := range outcomes {
		reviewed := outcome.Approved + outcome.Rejected
		if reviewed == 0 {
			continue
		}
		rate := float64(outcome.Rejected) / float64(reviewed)
		if rate <= e.policy.SuggestRejectionRate {
			continue
		}
		suggestions = append(suggestions, BoundSuggestion{
			ActionName:    outcome.ActionName,
			RejectionRate: rate,
			Proposed:      outcome.Proposed,
			Rejected:      outcome.Rejected,
			Rationale: fmt.Sprintf("动作 %s 的提案有 %.0f%% 被拒绝，目录中的自治等级或置信度下限可能过宽",
				outcome.ActionName, rate*100),
		})
	}
	return suggestions, nil
}

// ConsultLearnings 在提案前返回与 (agent, action) 相关的指导。
// 学习库不可用时降级为空结果，绝不阻塞提案路径；返回的每条指导
// 置信度不低于 MinConsultConfidence。
func (e *Engine) ConsultLearnings(ctx context.Context, agentID, actionName string) []Guidance {
	var guidances []Guidance

	rules, err := e.repo.ListRules(ctx, agentID, actionName)
	if err != nil {
		logger.L().Warn("查询纠正规则失败，降级为空结果",
			slog.Any("error", err),
			slog.String("agent_id", agentID),
			slog.String("action", actionName),
		)
		return nil
	}
	for _, rule := range rules {
		guidances = append(guidances, Guidance{
			Source:     "correction-rule",
			Advice:     rule.Guidance,
			Confidence: 0.7,
		})
	}

	// 阈值学习按智能体落档，查询时不按动作过滤。
	threshold, err := e.repo.LatestLearning(ctx, agentID, "", KindThreshold, StateApplied)
	if err != nil {
		logger.L().Warn("查询阈值调整失败，忽略",
			slog.Any("error", err),
			slog.String("agent_id", agentID),
		)
	} else if threshold != nil {
		guidances = append(guidances, Guidance{
			Source:     "calibration",
			Advice:     threshold.Rationale,
			Confidence: threshold.Confidence,
		})
	}

	for i := range guidances {
		if guidances[i].Confidence < e.policy.MinConsultConfidence {
			guidances[i].Confidence = e.policy.MinConsultConfidence
		}
	}
	return guidances
}

// CycleReport 汇总一次学习周期。
type CycleReport struct {
	AgentID       string            `json:"agent_id"`
	Patterns      []*MistakePattern `json:"patterns,omitempty"`
	Calibration   CalibrationReport `json:"calibration"`
	Adjustments   []*Learning       `json:"adjustments,omitempty"`
	Rules         []*CorrectionRule `json:"rules,omitempty"`
	Suggestions   []BoundSuggestion `json:"suggestions,omitempty"`
	SkippedPhases []string          `json:"skipped_phases,omitempty"`
}

// RunLearningCycle 依次执行失误识别、置信度校准、自治评估、规则派生
// 与边界建议。规则派生放在自治评估之后，本周期识别出的活跃模式先参与
// 上调拦截、再被缓解。任何一个阶段失败都记录并跳过，周期本身永不中断。
func (e *Engine) RunLearningCycle(ctx context.Context, agentID string) CycleReport {
	report := CycleReport{AgentID: agentID}

	patterns, err := e.DetectRepeatedMistakes(ctx, agentID)
	if err != nil {
		logger.L().Warn("失误识别阶段失败", slog.Any("error", err), slog.String("agent_id", agentID))
		report.SkippedPhases = append(report.SkippedPhases, "mistakes")
	} else {
		report.Patterns = patterns
	}

	calibration, _, err := e.CalibrateConfidence(ctx, agentID)
	if err != nil {
		logger.L().Warn("置信度校准阶段失败", slog.Any("error", err), slog.String("agent_id", agentID))
		report.SkippedPhases = append(report.SkippedPhases, "calibration")
	} else {
		report.Calibration = calibration
	}

	adjustments, err := e.EvaluateAutonomyAdjustments(ctx, agentID)
	if err != nil {
		logger.L().Warn("自治评估阶段失败", slog.Any("error", err), slog.String("agent_id", agentID))
		report.SkippedPhases = append(report.SkippedPhases, "autonomy")
	} else {
		report.Adjustments = adjustments
	}

	rules, err := e.MaterializeCorrectionRules(ctx, agentID)
	if err != nil {
		logger.L().Warn("规则派生阶段失败", slog.Any("error", err), slog.String("agent_id", agentID))
		report.SkippedPhases = append(report.SkippedPhases, "rules")
	} else {
		report.Rules = rules
	}

	suggestions, err := e.SuggestBoundAdjustments(ctx, agentID)
	if err != nil {
		logger.L().Warn("边界建议阶段失败", slog.Any("error", err), slog.String("agent_id", agentID))
		report.SkippedPhases = append(report.SkippedPhases, "bounds")
	} else {
		report.Suggestions = suggestions
	}

	metrics.ObserveLearningCycle(len(report.SkippedPhases))
	logger.Audit().Info("学习周期完成",
		slog.String("agent_id", agentID),
		slog.Int("patterns", len(report.Patterns)),
		slog.Int("adjustments", len(report.Adjustments)),
		slog.Int("rules", len(report.Rules)),
		slog.Int("suggestions", len(report.Suggestions)),
		slog.Any("skipped", report.SkippedPhases),
	)
	return report
}
