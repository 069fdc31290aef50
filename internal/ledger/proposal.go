package ledger

import (
	xerrors "AgentGov-Core/internal/errors"
)

// Status 表示提案在生命周期中的状态。pending 只会迁移到 approved 或
// rejected 之一，且恰好迁移一次。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Priority 表示提案在审阅队列中的优先级。
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank 返回优先级的序号，数值越小越靠前。
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid 判断优先级是否合法。
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// CoordinationStatus 表示提案在多智能体协同中的阶段，只允许单向推进。
type CoordinationStatus string

const (
	CoordinationIndependent  CoordinationStatus = "independent"
	CoordinationWaiting      CoordinationStatus = "waiting"
	CoordinationCoordinating CoordinationStatus = "coordinating"
	CoordinationComplete     CoordinationStatus = "complete"
)

// Rank 返回协同阶段的序号，推进只能朝更大的序号进行。
func (c CoordinationStatus) Rank() int {
	switch c {
	case CoordinationIndependent:
		return 0
	case CoordinationWaiting:
		return 1
	case CoordinationCoordinating:
		return 2
	case CoordinationComplete:
		return 3
	default:
		return -1
	}
}

// Valid 判断协同阶段是否合法。
func (c CoordinationStatus) Valid() bool {
	return c.Rank() >= 0
}

// Reasoning 记录智能体提出该动作时的依据。
type Reasoning struct {
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Proposal 描述智能体提出的一次动作调用。账本是追加式的：
// 审阅结论与协同阶段会更新，提出时的字段一经写入不再改动。
type Proposal struct {
	ID                 string             `json:"id"`
	AgentID            string             `json:"agent_id"`
	ActionName         string             `json:"action_name"`
	Params             map[string]any     `json:"params,omitempty"`
	Reasoning          Reasoning          `json:"reasoning"`
	Priority           Priority           `json:"priority"`
	Status             Status             `json:"status"`
	ReviewedBy         string             `json:"reviewed_by,omitempty"`
	ReviewNotes        string             `json:"review_notes,omitempty"`
	ReviewedAt         int64              `json:"reviewed_at,omitempty"`
	CoordinationStatus CoordinationStatus `json:"coordination_status"`
	ParentID           string             `json:"parent_id,omitempty"`
	Result             map[string]any     `json:"result,omitempty"`
	CreatedAt          int64              `json:"created_at"`
	UpdatedAt          int64              `json:"updated_at"`
}

// SelfApproved 判断提案是否由系统代表智能体自动批准。
// 自动批准的记录 ReviewedBy 为智能体自身且不带审阅备注。
func (p *Proposal) SelfApproved() bool {
	return p.Status == StatusApproved && p.ReviewedBy == p.AgentID && p.ReviewNotes == ""
}

var (
	// ErrProposalNotFound 表示指定的提案不存在。
	ErrProposalNotFound = xerrors.New(CodeProposalNotFound, "proposal not found")
	// ErrAlreadyReviewed 表示提案已有终态结论，后到的审阅被拒绝。
	ErrAlreadyReviewed = xerrors.New(CodeAlreadyReviewed, "proposal already reviewed", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrProposalConflict 表示提案在当前状态下无法进行所请求的操作。
	ErrProposalConflict = xerrors.New(CodeProposalConflict, "proposal conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrCoordinationRegress 表示协同阶段试图回退。
	ErrCoordinationRegress = xerrors.New(CodeCoordinationRegress, "coordination status may not move backwards", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeProposalNotFound    xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeAlreadyReviewed     xerrors.Code = "PROPOSAL_ALREADY_REVIEWED"
	CodeProposalConflict    xerrors.Code = "PROPOSAL_CONFLICT"
	CodeProposalValidation  xerrors.Code = "PROPOSAL_VALIDATION_FAILED"
	CodeProposalPublish     xerrors.Code = "PROPOSAL_PUBLISH_FAILED"
	CodeExecutionFailed     xerrors.Code = "EXECUTION_FAILED"
	CodeCoordinationRegress xerrors.Code = "COORDINATION_REGRESS"
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:   "proposal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyReviewed, xerrors.Attributes{
		Message:   "proposal already reviewed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalConflict, xerrors.Attributes{
		Message:   "proposal conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalValidation, xerrors.Attributes{
		Message:   "proposal validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalPublish, xerrors.Attributes{
		Message:   "failed to publish proposal",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{
		Message:   "action execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeCoordinationRegress, xerrors.Attributes{
		Message:   "coordination status may not move backwards",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

func cloneParams(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
