package learning

// Policy 控制学习引擎的各个阈值。零值字段由 applyDefaults 补齐。
type Policy struct {
	// WindowDays 是学习周期回看的天数。
	WindowDays int
	// MinOccurrences 是失误聚合被认定为模式的最小次数。
	MinOccurrences int
	// MinCalibrationSamples 是发起置信度校准所需的最小样本数。
	MinCalibrationSamples int
	// AutoApplyConfidence 是阈值调整自动生效所需的最低引擎把握。
	AutoApplyConfidence float64
	// AutoApplyMaxDelta 是阈值调整自动生效允许的最大变化量。
	AutoApplyMaxDelta float64
	// DemoteFailureRate 与 DemoteMinExecutions：失败率超过前者且样本
	// 不少于后者时建议下调自治。
	DemoteFailureRate   float64
	DemoteMinExecutions int
	// PromoteFailureRate 与 PromoteMinExecutions：失败率低于前者且样本
	// 不少于后者、且没有活跃失误模式时建议上调自治。
	PromoteFailureRate   float64
	PromoteMinExecutions int
	// SuggestRejectionRate 是触发边界修订建议的拒绝率。
	SuggestRejectionRate float64
	// MinConsultConfidence 是提案前咨询返回结论的置信度下限。
	MinConsultConfidence float64
}

// DefaultPolicy 返回默认策略。
func DefaultPolicy() Policy {
	return Policy{
		WindowDays:            30,
		MinOccurrences:        3,
		MinCalibrationSamples: 20,
		AutoApplyConfidence:   0.8,
		AutoApplyMaxDelta:     0.15,
		DemoteFailureRate:     0.3,
		DemoteMinExecutions:   5,
		PromoteFailureRate:    0.05,
		PromoteMinExecutions:  20,
		SuggestRejectionRate:  0.3,
		MinConsultConfidence:  0.3,
	}
}

func (p *Policy) applyDefaults() {
	defaults := DefaultPolicy()
	if p.WindowDays <= 0 {
		p.WindowDays = defaults.WindowDays
	}
	if p.MinOccurrences <= 0 {
		p.MinOccurrences = defaults.MinOccurrences
	}
	if p.MinCalibrationSamples <= 0 {
		p.MinCalibrationSamples = defaults.MinCalibrationSamples
	}
	if p.AutoApplyConfidence <= 0 {
		p.AutoApplyConfidence = defaults.AutoApplyConfidence
	}
	if p.AutoApplyMaxDelta <= 0 {
		p.AutoApplyMaxDelta = defaults.AutoApplyMaxDelta
	}
	if p.DemoteFailureRate <= 0 {
		p.DemoteFailureRate = defaults.DemoteFailureRate
	}
	if p.DemoteMinExecutions <= 0 {
		p.DemoteMinExecutions = defaults.DemoteMinExecutions
	}
	if p.PromoteFailureRate <= 0 {
		p.PromoteFailureRate = defaults.PromoteFailureRate
	}
	if p.PromoteMinExecutions <= 0 {
		p.PromoteMinExecutions = defaults.PromoteMinExecutions
	}
	if p.SuggestRejectionRate <= 0 {
		p.SuggestRejectionRate = defaults.SuggestRejectionRate
	}
	if p.MinConsultConfidence <= 0 {
		p.MinConsultConfidence = defaults.MinConsultConfidence
	}
}
