package ledger

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentGov-Core/internal/bounds"
	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/observability/metrics"
	"AgentGov-Core/internal/registry"
	"AgentGov-Core/pkg/logger"
)

// ProposalRequest 描述智能体提出动作的请求。
type ProposalRequest struct {
	ID         string         `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	ActionName string         `json:"action_name"`
	Params     map[string]any `json:"params,omitempty"`
	Reasoning  Reasoning      `json:"reasoning"`
	Priority   Priority       `json:"priority,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
}

// Service 负责提案的创建、审阅与反馈回写。所有执行前的边界裁决
// 都经由这里进入账本。
type Service struct {
	store    Store
	producer Producer
	registry *registry.Registry
	gate     *bounds.Gate
}

// NewService 构造账本服务。
func NewService(store Store, producer Producer, reg *registry.Registry, gate *bounds.Gate) *Service {
	return &Service{store: store, producer: producer, registry: reg, gate: gate}
}

// Propose 为智能体创建一个新的提案。
//
// 停用的动作与越界的调用在这里被拒之门外，不会留下 pending 记录。
// 通过检查且有效自治等级允许自审批的提案会立即批准并进入执行队列，
// 其余提案以 pending 状态等待审阅面。
func (s *Service) Propose(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	if s.store == nil || s.producer == nil || s.registry == nil || s.gate == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本服务未初始化")
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, xerrors.New(CodeProposalValidation, "提案必须指定 agent_id")
	}
	if strings.TrimSpace(req.ActionName) == "" {
		return nil, xerrors.New(CodeProposalValidation, "提案必须指定 action_name")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, xerrors.New(CodeProposalValidation, "非法优先级: "+string(req.Priority))
	}

	action, err := s.registry.Get(req.ActionName)
	if err != nil {
		return nil, err
	}
	if !action.Enabled {
		return nil, registry.ErrActionDisabled
	}

	proposalID := strings.TrimSpace(req.ID)
	if proposalID != "" {
		existing, err := s.store.GetProposal(ctx, proposalID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
	} else {
		proposalID = uuid.NewString()
	}

	check, err := s.gate.Check(ctx, req.AgentID, req.ActionName, req.Reasoning.Confidence)
	if err != nil {
		return nil, err
	}
	if !check.WithinBounds {
		logger.Audit().Warn("提案被边界门拒绝",
			slog.String("agent_id", req.AgentID),
			slog.String("action", req.ActionName),
			slog.Any("violations", check.Violations),
		)
		return nil, xerrors.New(bounds.CodeBoundsViolation,
			"边界检查未通过: "+strings.Join(check.Violations, "; "),
			xerrors.WithMetadata("violations", strings.Join(check.Violations, "; ")),
		)
	}

	proposal := &Proposal{
		ID:                 proposalID,
		AgentID:            req.AgentID,
		ActionName:         req.ActionName,
		Params:             cloneParams(req.Params),
		Reasoning:          req.Reasoning,
		Priority:           req.Priority,
		Status:             StatusPending,
		CoordinationStatus: CoordinationIndependent,
		ParentID:           strings.TrimSpace(req.ParentID),
	}
	if proposal.Priority == "" {
		proposal.Priority = defaultPriority(action)
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		if stdErrors.Is(err, ErrProposalConflict) {
			existing, getErr := s.store.GetProposal(ctx, proposalID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrProposalNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}

	logger.Audit().Info("提案已登记",
		slog.String("proposal_id", proposal.ID),
		slog.String("agent_id", proposal.AgentID),
		slog.String("action", proposal.ActionName),
		slog.String("priority", string(proposal.Priority)),
		slog.String("effective_level", string(check.EffectiveLevel)),
		slog.Float64("confidence", proposal.Reasoning.Confidence),
	)

	if check.RequireReview {
		metrics.ObserveProposal(proposal.ActionName, string(StatusPending))
		return s.store.GetProposal(ctx, proposal.ID)
	}

	// 自审批记录代表智能体自身，不带审阅备注。
	approved, err := s.store.Review(ctx, proposal.ID, StatusApproved, proposal.AgentID, "")
	if err != nil && !stdErrors.Is(err, ErrAlreadyReviewed) {
		return nil, err
	}
	if err := s.publish(ctx, proposal.ID); err != nil {
		return nil, err
	}
	logger.Audit().Info("提案自动批准",
		slog.String("proposal_id", proposal.ID),
		slog.String("agent_id", proposal.AgentID),
		slog.String("action", proposal.ActionName),
	)
	metrics.ObserveProposal(proposal.ActionName, string(StatusApproved))
	return approved, nil
}

// Review 写入人工审阅结论。同一提案只接受一次结论，后到的审阅
// 得到 ErrAlreadyReviewed 与当前记录。
func (s *Service) Review(ctx context.Context, id string, approve bool, reviewedBy, notes string) (*Proposal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	if strings.TrimSpace(reviewedBy) == "" {
		return nil, xerrors.New(CodeProposalValidation, "审阅必须指定 reviewed_by")
	}
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	proposal, err := s.store.Review(ctx, id, status, reviewedBy, notes)
	if err != nil {
		return proposal, err
	}
	logger.Audit().Info("提案审阅完成",
		slog.String("proposal_id", proposal.ID),
		slog.String("status", string(proposal.Status)),
		slog.String("reviewed_by", reviewedBy),
	)
	metrics.ObserveProposal(proposal.ActionName, string(proposal.Status))
	if approve {
		if err := s.publish(ctx, proposal.ID); err != nil {
			return proposal, err
		}
	}
	return proposal, nil
}

func (s *Service) publish(ctx context.Context, proposalID string) error {
	if err := s.producer.Publish(ctx, proposalID); err != nil {
		logger.L().Error("提案入队失败", slog.Any("error", err), slog.String("proposal_id", proposalID))
		return xerrors.Wrap(CodeProposalPublish, err, "发布提案到执行队列失败")
	}
	return nil
}

// Get 返回指定提案。
func (s *Service) Get(ctx context.Context, id string) (*Proposal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	return s.store.GetProposal(ctx, id)
}

// List 返回符合过滤条件的提案列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Proposal, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	return s.store.ListProposals(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的账本统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (LedgerStats, error) {
	if s.store == nil {
		return LedgerStats{}, xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Execution 按提案返回执行记录。
func (s *Service) Execution(ctx context.Context, proposalID string) (*Execution, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	return s.store.GetExecutionByProposal(ctx, proposalID)
}

// RecordFeedback 为一次执行补写事后评估，供学习引擎消费。
func (s *Service) RecordFeedback(ctx context.Context, executionID string, outcome ReviewOutcome, category, notes string) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "账本存储未初始化")
	}
	if err := s.store.RecordOutcome(ctx, executionID, outcome, category, notes); err != nil {
		return err
	}
	logger.Audit().Info("执行事后评估已记录",
		slog.String("execution_id", executionID),
		slog.String("outcome", string(outcome)),
		slog.String("category", category),
	)
	return nil
}

// WaitUntilReviewed 在指定超时时间内轮询提案的审阅结论。
func (s *Service) WaitUntilReviewed(ctx context.Context, id string, interval time.Duration) (*Proposal, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		proposal, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if proposal.Status.Terminal() {
			return proposal, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// defaultPriority 按动作的风险档位推导审阅优先级。
func defaultPriority(action registry.Action) Priority {
	switch action.RiskLevel {
	case registry.RiskHigh:
		if !action.Reversible {
			return PriorityCritical
		}
		return PriorityHigh
	case registry.RiskMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
