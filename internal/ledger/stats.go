package ledger

// LedgerStats 聚合了提案与执行账本的统计信息，常用于审阅面板与健康评估。
type LedgerStats struct {
	Total             int   `json:"total"`
	Pending           int   `json:"pending"`
	Approved          int   `json:"approved"`
	Rejected          int   `json:"rejected"`
	SelfApproved      int   `json:"self_approved"`
	Executions        int   `json:"executions"`
	ExecutionFailures int   `json:"execution_failures"`
	OutcomeCorrect    int   `json:"outcome_correct"`
	OutcomeIncorrect  int   `json:"outcome_incorrect"`
	OldestCreatedAt   int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt   int64 `json:"newest_created_at,omitempty"`
}

// ApprovalRate 返回已审阅提案中被批准的百分比，无样本时返回 100。
func (s LedgerStats) ApprovalRate() float64 {
	reviewed := s.Approved + s.Rejected
	if reviewed == 0 {
		return 100
	}
	return float64(s.Approved) / float64(reviewed) * 100
}

// ExecutionSuccessRate 返回执行成功的百分比，无样本时返回 100。
func (s LedgerStats) ExecutionSuccessRate() float64 {
	if s.Executions == 0 {
		return 100
	}
	return float64(s.Executions-s.ExecutionFailures) / float64(s.Executions) * 100
}

// DecisionAccuracy 返回事后评估中被判定正确的百分比，无样本时返回 100。
func (s LedgerStats) DecisionAccuracy() float64 {
	reviewed := s.OutcomeCorrect + s.OutcomeIncorrect
	if reviewed == 0 {
		return 100
	}
	return float64(s.OutcomeCorrect) / float64(reviewed) * 100
}
