package ledger

// ReviewOutcome 表示一次执行事后评估的结论。
type ReviewOutcome string

const (
	OutcomePending   ReviewOutcome = "pending"
	OutcomeCorrect   ReviewOutcome = "correct"
	OutcomeIncorrect ReviewOutcome = "incorrect"
)

// Valid 判断评估结论是否合法。
func (o ReviewOutcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeCorrect, OutcomeIncorrect:
		return true
	}
	return false
}

// Execution 记录一次已批准提案的执行结果。每条记录在创建后只有
// 事后评估字段（Outcome、MistakeCategory、FeedbackNotes）可以补写一次。
// WithinBounds 恒为 true：执行只在边界门放行后发生，被拦截的提案
// 不产生执行记录。
type Execution struct {
	ID              string         `json:"id"`
	ProposalID      string         `json:"proposal_id"`
	AgentID         string         `json:"agent_id"`
	ActionName      string         `json:"action_name"`
	Success         bool           `json:"success"`
	WithinBounds    bool           `json:"within_bounds"`
	Result          map[string]any `json:"result,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
	Outcome         ReviewOutcome  `json:"outcome"`
	MistakeCategory string         `json:"mistake_category,omitempty"`
	FeedbackNotes   string         `json:"feedback_notes,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}
