package learning

import (
	"context"
	"fmt"
	"math"
	"testing"

	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/internal/registry"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.MemoryStore, *MemoryRepository) {
	t.Helper()
	store := ledger.NewMemoryStore()
	repo := NewMemoryRepository()
	reg, err := registry.New([]registry.Action{
		{Name: "send-email", AutonomyLevel: registry.AutonomyAutonomous, RiskLevel: registry.RiskLow, Reversible: true, Enabled: true, MinConfidence: 0.5},
		{Name: "reindex-crm", AutonomyLevel: registry.AutonomyBounded, RiskLevel: registry.RiskMedium, Reversible: true, Enabled: true, MinConfidence: 0.5},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return NewEngine(store, repo, reg, Policy{}), store, repo
}

// seedExecution 在账本中补齐一条完整的提案-执行-评估链路。
func seedExecution(t *testing.T, store *ledger.MemoryStore, id, agentID, action string, confidence float64, success bool, outcome ledger.ReviewOutcome, category string) {
	t.Helper()
	ctx := context.Background()
	proposal := &ledger.Proposal{
		ID:         id,
		AgentID:    agentID,
		ActionName: action,
		Reasoning:  ledger.Reasoning{Trigger: "seed", Confidence: confidence},
		Priority:   ledger.PriorityMedium,
	}
	if err := store.CreateProposal(ctx, proposal); err != nil {
		t.Fatalf("CreateProposal(%s): %v", id, err)
	}
	if _, err := store.Review(ctx, id, ledger.StatusApproved, "reviewer", "n"); err != nil {
		t.Fatalf("Review(%s): %v", id, err)
	}
	if err := store.CreateExecution(ctx, &ledger.Execution{
		ID:         "e-" + id,
		ProposalID: id,
		AgentID:    agentID,
		ActionName: action,
		Success:    success,
	}); err != nil {
		t.Fatalf("CreateExecution(%s): %v", id, err)
	}
	if outcome != "" && outcome != ledger.OutcomePending {
		if err := store.RecordOutcome(ctx, "e-"+id, outcome, category, ""); err != nil {
			t.Fatalf("RecordOutcome(%s): %v", id, err)
		}
	}
}

func TestDetectRepeatedMistakes(t *testing.T) {
	engine, store, repo := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, true, ledger.OutcomeIncorrect, "wrong-recipient")
	}
	// 低于阈值的类别不构成模式。
	seedExecution(t, store, "p-other", "agent-1", "send-email", 0.8, true, ledger.OutcomeIncorrect, "bad-subject")

	patterns, err := engine.DetectRepeatedMistakes(ctx, "agent-1")
	if err != nil {
		t.Fatalf("DetectRepeatedMistakes: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Category != "wrong-recipient" || patterns[0].Count != 3 {
		t.Fatalf("意外的失误模式: %+v", patterns)
	}
	if !patterns[0].Active {
		t.Fatalf("识别出的模式应保持活跃: %+v", patterns[0])
	}

	// 识别阶段只固化模式，规则由单独一步派生。
	rules, err := repo.ListRules(ctx, "agent-1", "send-email")
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("识别阶段不应派生规则: %+v", rules)
	}
}

func TestCreateCorrectionRuleMitigatesPattern(t *testing.T) {
	engine, store, repo := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, true, ledger.OutcomeIncorrect, "wrong-recipient")
	}
	patterns, err := engine.DetectRepeatedMistakes(ctx, "agent-1")
	if err != nil {
		t.Fatalf("DetectRepeatedMistakes: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("期望 1 个模式, 实际 %d", len(patterns))
	}

	rule, err := engine.CreateCorrectionRule(ctx, patterns[0])
	if err != nil {
		t.Fatalf("CreateCorrectionRule: %v", err)
	}
	if rule == nil || rule.Category != "wrong-recipient" {
		t.Fatalf("意外的纠正规则: %+v", rule)
	}
	active, err := repo.ListPatterns(ctx, "agent-1", true)
	if err != nil {
		t.Fatalf("ListPatterns: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("规则落地后模式应已缓解: %+v", active)
	}

	// 重复派生是幂等的，返回已有规则。
	again, err := engine.CreateCorrectionRule(ctx, patterns[0])
	if err != nil {
		t.Fatalf("重复 CreateCorrectionRule: %v", err)
	}
	if again == nil || again.ID != rule.ID {
		t.Fatalf("重复派生应返回已有规则: %+v", again)
	}
	rules, err := repo.ListRules(ctx, "agent-1", "send-email")
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("纠正规则应只写一次, 实际 %d 条", len(rules))
	}
}

func TestRunLearningCycleMaterializesRules(t *testing.T) {
	engine, store, repo := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, true, ledger.OutcomeIncorrect, "wrong-recipient")
	}

	report := engine.RunLearningCycle(ctx, "agent-1")
	if len(report.SkippedPhases) != 0 {
		t.Fatalf("不应跳过任何阶段: %+v", report.SkippedPhases)
	}
	if len(report.Patterns) != 1 || len(report.Rules) != 1 {
		t.Fatalf("周期应固化模式并派生规则: patterns=%d rules=%d", len(report.Patterns), len(report.Rules))
	}
	active, err := repo.ListPatterns(ctx, "agent-1", true)
	if err != nil {
		t.Fatalf("ListPatterns: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("周期结束后模式应已缓解: %+v", active)
	}
}

func TestCalibrateConfidenceAutoApplies(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	specs := []bucketSpec{
		{confidence: 0.35, count: 10, correct: 4},
		{confidence: 0.55, count: 15, correct: 9},
		{confidence: 0.65, count: 20, correct: 11},
		{confidence: 0.75, count: 30, correct: 18},
		{confidence: 0.84, count: 25, correct: 16},
	}
	seq := 0
	for _, spec := range specs {
		for i := 0; i < spec.count; i++ {
			outcome := ledger.OutcomeIncorrect
			if i < spec.correct {
				outcome = ledger.OutcomeCorrect
			}
			seedExecution(t, store, fmt.Sprintf("p-%d", seq), "agent-1", "send-email", spec.confidence, true, outcome, "misc")
			seq++
		}
	}

	report, learning, err := engine.CalibrateConfidence(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CalibrateConfidence: %v", err)
	}
	if math.Abs(report.ECE-0.1275) > 1e-9 {
		t.Fatalf("ECE 期望 0.1275, 实际 %.6f", report.ECE)
	}
	if learning == nil {
		t.Fatal("应产出 threshold 学习记录")
	}
	// 100 条样本的把握 0.833 > 0.8 且 |0.1025| < 0.15, 自动生效。
	if learning.State != StateApplied {
		t.Fatalf("调整应自动生效, 实际 %s", learning.State)
	}

	delta, err := engine.ThresholdDelta(ctx, "agent-1", "send-email")
	if err != nil {
		t.Fatalf("ThresholdDelta: %v", err)
	}
	if math.Abs(delta-0.1025) > 1e-9 {
		t.Fatalf("生效阈值调整期望 +0.1025, 实际 %.6f", delta)
	}
}

func TestCalibrateConfidenceLargeDeltaStaysProposed(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 30 条严重过度自信的样本: 调整被截断到 0.15, 不满足 |delta| < 0.15。
	for i := 0; i < 30; i++ {
		outcome := ledger.OutcomeIncorrect
		if i < 6 {
			outcome = ledger.OutcomeCorrect
		}
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.95, true, outcome, "misc")
	}

	_, learning, err := engine.CalibrateConfidence(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CalibrateConfidence: %v", err)
	}
	if learning == nil {
		t.Fatal("应产出 threshold 学习记录")
	}
	if learning.State != StateProposed {
		t.Fatalf("越限调整必须等待人工确认, 实际 %s", learning.State)
	}
	delta, err := engine.ThresholdDelta(ctx, "agent-1", "send-email")
	if err != nil {
		t.Fatalf("ThresholdDelta: %v", err)
	}
	if delta != 0 {
		t.Fatalf("未生效的调整不应影响边界门, 实际 %.4f", delta)
	}
}

func TestCalibrateConfidenceTooFewSamples(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.9, true, ledger.OutcomeIncorrect, "misc")
	}
	_, learning, err := engine.CalibrateConfidence(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CalibrateConfidence: %v", err)
	}
	if learning != nil {
		t.Fatalf("样本不足不应产出学习记录: %+v", learning)
	}
}

func TestEvaluateAutonomyDemotion(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 6 次执行 3 次失败, 失败率 0.5 > 0.3。
	for i := 0; i < 6; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, i%2 == 0, "", "")
	}

	adjustments, err := engine.EvaluateAutonomyAdjustments(ctx, "agent-1")
	if err != nil {
		t.Fatalf("EvaluateAutonomyAdjustments: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("期望 1 条调整, 实际 %d", len(adjustments))
	}
	if adjustments[0].State != StateProposed || adjustments[0].Autonomy != registry.AutonomyBounded {
		t.Fatalf("下调应保持 proposed 且降一档: %+v", adjustments[0])
	}

	// 评估只产出建议，未经确认的下调不影响边界门。
	if _, found, err := engine.EffectiveAutonomy(ctx, "agent-1", "send-email"); err != nil || found {
		t.Fatalf("未确认的下调不应生效: found=%v err=%v", found, err)
	}

	if err := engine.ApplyLearning(ctx, adjustments[0].ID); err != nil {
		t.Fatalf("ApplyLearning: %v", err)
	}
	level, found, err := engine.EffectiveAutonomy(ctx, "agent-1", "send-email")
	if err != nil {
		t.Fatalf("EffectiveAutonomy: %v", err)
	}
	if !found || level != registry.AutonomyBounded {
		t.Fatalf("确认后边界门应看到下调后的等级: %s found=%v", level, found)
	}
}

func TestEvaluateAutonomyPromotionProposed(t *testing.T) {
	engine, store, repo := newTestEngine(t)
	ctx := context.Background()

	// 先有一个生效中的下调。
	if err := repo.SaveLearning(ctx, &Learning{
		ID:         "l-demote",
		AgentID:    "agent-1",
		ActionName: "send-email",
		Kind:       KindAutonomy,
		State:      StateApplied,
		Autonomy:   registry.AutonomySupervised,
		Rationale:  "历史失败率过高",
	}); err != nil {
		t.Fatalf("SaveLearning: %v", err)
	}
	// 20 次零失败执行。
	for i := 0; i < 20; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, true, "", "")
	}

	adjustments, err := engine.EvaluateAutonomyAdjustments(ctx, "agent-1")
	if err != nil {
		t.Fatalf("EvaluateAutonomyAdjustments: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("期望 1 条上调建议, 实际 %d", len(adjustments))
	}
	if adjustments[0].State != StateProposed || adjustments[0].Autonomy != registry.AutonomyBounded {
		t.Fatalf("上调应保持 proposed 且升一档: %+v", adjustments[0])
	}
}

func TestEvaluateAutonomyPromotionBlockedByActivePattern(t *testing.T) {
	engine, store, repo := newTestEngine(t)
	ctx := context.Background()

	if err := repo.SaveLearning(ctx, &Learning{
		ID:         "l-demote",
		AgentID:    "agent-1",
		ActionName: "send-email",
		Kind:       KindAutonomy,
		State:      StateApplied,
		Autonomy:   registry.AutonomySupervised,
	}); err != nil {
		t.Fatalf("SaveLearning: %v", err)
	}
	if err := repo.UpsertPattern(ctx, &MistakePattern{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Category:   "wrong-recipient",
		Count:      3,
		Active:     true,
	}); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	for i := 0; i < 20; i++ {
		seedExecution(t, store, fmt.Sprintf("p-%d", i), "agent-1", "send-email", 0.8, true, "", "")
	}

	adjustments, err := engine.EvaluateAutonomyAdjustments(ctx, "agent-1")
	if err != nil {
		t.Fatalf("EvaluateAutonomyAdjustments: %v", err)
	}
	if len(adjustments) != 0 {
		t.Fatalf("存在活跃失误模式时不应上调: %+v", adjustments)
	}
}

func TestSuggestBoundAdjustments(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// send-email: 10 条审阅, 4 条拒绝 → 40% > 30%。
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("p-email-%d", i)
		proposal := &ledger.Proposal{
			ID:         id,
			AgentID:    "agent-1",
			ActionName: "send-email",
			Reasoning:  ledger.Reasoning{Confidence: 0.8},
			Priority:   ledger.PriorityMedium,
		}
		if err := store.CreateProposal(ctx, proposal); err != nil {
			t.Fatalf("CreateProposal: %v", err)
		}
		status := ledger.StatusApproved
		if i < 4 {
			status = ledger.StatusRejected
		}
		if _, err := store.Review(ctx, id, status, "reviewer", "n"); err != nil {
			t.Fatalf("Review: %v", err)
		}
	}
	// reindex-crm: 10 条审阅, 2 条拒绝 → 20%, 不触发。
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("p-crm-%d", i)
		proposal := &ledger.Proposal{
			ID:         id,
			AgentID:    "agent-1",
			ActionName: "reindex-crm",
			Reasoning:  ledger.Reasoning{Confidence: 0.8},
			Priority:   ledger.PriorityMedium,
		}
		if err := store.CreateProposal(ctx, proposal); err != nil {
			t.Fatalf("CreateProposal: %v", err)
		}
		status := ledger.StatusApproved
		if i < 2 {
			status = ledger.StatusRejected
		}
		if _, err := store.Review(ctx, id, status, "reviewer", "n"); err != nil {
			t.Fatalf("Review: %v", err)
		}
	}

	suggestions, err := engine.SuggestBoundAdjustments(ctx, "agent-1")
	if err != nil {
		t.Fatalf("SuggestBoundAdjustments: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("期望恰好 1 条建议, 实际 %+v", suggestions)
	}
	if suggestions[0].ActionName != "send-email" || math.Abs(suggestions[0].RejectionRate-0.4) > 1e-9 {
		t.Fatalf("建议应点名 send-email: %+v", suggestions[0])
	}
}

func TestConsultLearningsFloorsConfidence(t *testing.T) {
	engine, _, repo := newTestEngine(t)
	ctx := context.Background()

	if err := repo.SaveRule(ctx, &CorrectionRule{
		ID:         "r-1",
		AgentID:    "agent-1",
		ActionName: "send-email",
		Category:   "wrong-recipient",
		Guidance:   "发送前核对收件人",
	}); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
	// 把握极低的阈值记录, 返回时必须抬到下限。
	if err := repo.SaveLearning(ctx, &Learning{
		ID:         "l-threshold",
		AgentID:    "agent-1",
		ActionName: "send-email",
		Kind:       KindThreshold,
		State:      StateApplied,
		Confidence: 0.1,
		Delta:      0.05,
		Rationale:  "小样本校准",
	}); err != nil {
		t.Fatalf("SaveLearning: %v", err)
	}

	guidances := engine.ConsultLearnings(ctx, "agent-1", "send-email")
	if len(guidances) != 2 {
		t.Fatalf("期望 2 条指导, 实际 %+v", guidances)
	}
	for _, guidance := range guidances {
		if guidance.Confidence < 0.3 {
			t.Fatalf("指导置信度不得低于 0.3: %+v", guidance)
		}
	}
}

func TestConsultLearningsDegradesOnFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := NewEngine(store, failingRepository{}, nil, Policy{})

	guidances := engine.ConsultLearnings(context.Background(), "agent-1", "send-email")
	if guidances != nil {
		t.Fatalf("学习库故障应降级为空结果: %+v", guidances)
	}
}

func TestRunLearningCycleNeverAborts(t *testing.T) {
	engine := NewEngine(failingLedger{}, failingRepository{}, nil, Policy{})

	report := engine.RunLearningCycle(context.Background(), "agent-1")
	if len(report.SkippedPhases) != 5 {
		t.Fatalf("每个阶段都应被跳过而不是中断: %+v", report.SkippedPhases)
	}
}
