package learning

import (
	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/registry"
)

// Kind 表示学习记录的种类。
type Kind string

const (
	// KindThreshold 是对某个智能体置信度阈值的校准调整。
	KindThreshold Kind = "threshold"
	// KindAutonomy 是对某个智能体在某动作上自治等级的调整。
	KindAutonomy Kind = "autonomy"
	// KindBoundSuggestion 是对动作目录边界的修订建议，只供人工参考。
	KindBoundSuggestion Kind = "bound-suggestion"
)

// State 表示学习记录的生效状态。
type State string

const (
	StateProposed State = "proposed"
	StateApplied  State = "applied"
	StateRejected State = "rejected"
)

// Learning 是学习引擎产出的一条可追溯结论。Confidence 是引擎对这条
// 结论本身的把握，Applied 的记录会影响边界门的裁决。
type Learning struct {
	ID         string  `json:"id"`
	AgentID    string  `json:"agent_id"`
	ActionName string  `json:"action_name,omitempty"`
	Kind       Kind    `json:"kind"`
	State      State   `json:"state"`
	Confidence float64 `json:"confidence"`
	// Delta 对 threshold 记录是阈值变化量，对 autonomy 记录无意义。
	Delta float64 `json:"delta,omitempty"`
	// Autonomy 对 autonomy 记录是目标等级。
	Autonomy  registry.AutonomyLevel `json:"autonomy,omitempty"`
	Rationale string                 `json:"rationale"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

// MistakePattern 是从失误聚合中识别出的重复性错误。
type MistakePattern struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	ActionName string `json:"action_name"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
	LastSeen   int64  `json:"last_seen"`
	Active     bool   `json:"active"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// CorrectionRule 是由失误模式派生出的程序性记忆，按
// (agent, action, category) 幂等，智能体在下次提案前查询。
type CorrectionRule struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	ActionName string `json:"action_name"`
	Category   string `json:"category"`
	Guidance   string `json:"guidance"`
	CreatedAt  int64  `json:"created_at"`
}

// CalibrationBucket 是按置信度分桶后的一段校准样本。
type CalibrationBucket struct {
	Low            float64 `json:"low"`
	High           float64 `json:"high"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
	Accuracy       float64 `json:"accuracy"`
	// Gap 为 Accuracy 与 MeanConfidence 之差，负值表示过度自信。
	Gap float64 `json:"gap"`
}

// CalibrationReport 汇总一次置信度校准。
type CalibrationReport struct {
	AgentID string              `json:"agent_id"`
	Samples int                 `json:"samples"`
	Buckets []CalibrationBucket `json:"buckets"`
	ECE     float64             `json:"ece"`
	// Adjustment 是建议的阈值变化量，正值表示收紧。
	Adjustment float64 `json:"adjustment"`
}

// BoundSuggestion 是对动作目录的修订建议。
type BoundSuggestion struct {
	ActionName    string  `json:"action_name"`
	RejectionRate float64 `json:"rejection_rate"`
	Proposed      int     `json:"proposed"`
	Rejected      int     `json:"rejected"`
	Rationale     string  `json:"rationale"`
}

// Guidance 是提案前咨询返回的一条指导。
type Guidance struct {
	Source     string  `json:"source"`
	Advice     string  `json:"advice"`
	Confidence float64 `json:"confidence"`
}

const (
	CodeLearningQueryFailed xerrors.Code = "LEARNING_QUERY_FAILED"
	CodeLearningConflict    xerrors.Code = "LEARNING_CONFLICT"
)

var (
	// ErrLearningQueryFailed 表示学习查询失败。该错误永远是非致命的，
	// 调用方降级为空结果继续。
	ErrLearningQueryFailed = xerrors.New(CodeLearningQueryFailed, "learning query failed", xerrors.WithRetryable(true))
	// ErrLearningConflict 表示写入的学习记录已存在。
	ErrLearningConflict = xerrors.New(CodeLearningConflict, "learning record already exists", xerrors.WithSeverity(xerrors.SeverityInfo))
)

func init() {
	xerrors.Register(CodeLearningQueryFailed, xerrors.Attributes{
		Message:   "learning query failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeLearningConflict, xerrors.Attributes{
		Message:   "learning record already exists",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
