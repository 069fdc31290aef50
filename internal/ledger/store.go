package ledger

import "context"

// MistakeGroup 是按 (智能体, 动作, 错误类别) 聚合出的失误记录。
type MistakeGroup struct {
	AgentID    string `json:"agent_id"`
	ActionName string `json:"action_name"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
	LastSeen   int64  `json:"last_seen"`
}

// CalibrationRow 是一条带事后结论的置信度样本。
type CalibrationRow struct {
	Confidence float64 `json:"confidence"`
	Correct    bool    `json:"correct"`
}

// ActionOutcome 是按动作聚合出的提案去向统计。
type ActionOutcome struct {
	ActionName string `json:"action_name"`
	Proposed   int    `json:"proposed"`
	Approved   int    `json:"approved"`
	Rejected   int    `json:"rejected"`
	Executed   int    `json:"executed"`
	Failed     int    `json:"failed"`
}

// Store 抽象了提案与执行账本的持久化接口。Review 与
// SetCoordinationStatus 必须以比较与交换的方式实现，并发时恰好一方成功。
type Store interface {
	CreateProposal(ctx context.Context, proposal *Proposal) error
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	ListProposals(ctx context.Context, opts ListOptions) ([]*Proposal, error)
	// Review 将 pending 的提案迁移到终态。提案已有结论时返回
	// ErrAlreadyReviewed，并发审阅时至多一方成功。
	Review(ctx context.Context, id string, status Status, reviewedBy, notes string) (*Proposal, error)
	// SetCoordinationStatus 单向推进协同阶段，回退返回 ErrCoordinationRegress。
	SetCoordinationStatus(ctx context.Context, id string, status CoordinationStatus) error
	SetResult(ctx context.Context, id string, result map[string]any) error
	ListChildren(ctx context.Context, parentID string) ([]*Proposal, error)

	CreateExecution(ctx context.Context, execution *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	GetExecutionByProposal(ctx context.Context, proposalID string) (*Execution, error)
	// RecordOutcome 补写一次事后评估，已有结论的记录返回 ErrProposalConflict。
	RecordOutcome(ctx context.Context, executionID string, outcome ReviewOutcome, category, notes string) error

	MistakeGroups(ctx context.Context, agentID string, since int64, minCount int) ([]MistakeGroup, error)
	CalibrationRows(ctx context.Context, agentID string, since int64) ([]CalibrationRow, error)
	ActionOutcomes(ctx context.Context, agentID string, since int64) ([]ActionOutcome, error)
	Stats(ctx context.Context, opts ListOptions) (LedgerStats, error)
	Close() error
}
