package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentGov-Core/internal/errors"
)

// MemoryStore 以内存方式保存账本，主要用于测试与单机部署。
type MemoryStore struct {
	mu         sync.RWMutex
	proposals  map[string]*Proposal
	executions map[string]*Execution
	byProposal map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals:  make(map[string]*Proposal),
		executions: make(map[string]*Execution),
		byProposal: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateProposal 实现 Store 接口。
func (m *MemoryStore) CreateProposal(_ context.Context, proposal *Proposal) error {
	if proposal == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proposal 不能为空")
	}
	if proposal.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提案 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[proposal.ID]; ok {
		return ErrProposalConflict
	}
	now := time.Now().Unix()
	if proposal.CreatedAt == 0 {
		proposal.CreatedAt = now
	}
	proposal.UpdatedAt = now
	if proposal.Status == "" {
		proposal.Status = StatusPending
	}
	if proposal.CoordinationStatus == "" {
		proposal.CoordinationStatus = CoordinationIndependent
	}
	m.proposals[proposal.ID] = cloneProposal(proposal)
	return nil
}

// GetProposal 返回提案。
func (m *MemoryStore) GetProposal(_ context.Context, id string) (*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proposal, ok := m.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(proposal), nil
}

// ListProposals 返回符合过滤条件的提案。
func (m *MemoryStore) ListProposals(_ context.Context, opts ListOptions) ([]*Proposal, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Proposal, 0, len(m.proposals))
	for _, proposal := range m.proposals {
		if !matchProposal(proposal, opts) {
			continue
		}
		matched = append(matched, proposal)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch opts.Order {
		case SortByCreatedDesc:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt > b.CreatedAt
			}
		case SortByCreatedAsc:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
		default:
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() < b.Priority.Rank()
			}
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
		}
		return a.ID < b.ID
	})

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	result := make([]*Proposal, 0, len(matched))
	for _, proposal := range matched {
		result = append(result, cloneProposal(proposal))
	}
	return result, nil
}

// Review 以比较与交换的方式写入审阅结论。
func (m *MemoryStore) Review(_ context.Context, id string, status Status, reviewedBy, notes string) (*Proposal, error) {
	if !status.Terminal() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "审阅结论必须是 approved 或 rejected")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if proposal.Status != StatusPending {
		return cloneProposal(proposal), ErrAlreadyReviewed
	}
	now := time.Now().Unix()
	proposal.Status = status
	proposal.ReviewedBy = reviewedBy
	proposal.ReviewNotes = notes
	proposal.ReviewedAt = now
	proposal.UpdatedAt = now
	return cloneProposal(proposal), nil
}

// SetCoordinationStatus 单向推进协同阶段。
func (m *MemoryStore) SetCoordinationStatus(_ context.Context, id string, status CoordinationStatus) error {
	if !status.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法协同阶段: "+string(status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if status.Rank() < proposal.CoordinationStatus.Rank() {
		return ErrCoordinationRegress
	}
	proposal.CoordinationStatus = status
	proposal.UpdatedAt = time.Now().Unix()
	return nil
}

// SetResult 回写提案的执行产物。
func (m *MemoryStore) SetResult(_ context.Context, id string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	proposal.Result = cloneParams(result)
	proposal.UpdatedAt = time.Now().Unix()
	return nil
}

// ListChildren 返回某个父提案派生出的子提案，不存在子提案时返回空切片。
func (m *MemoryStore) ListChildren(_ context.Context, parentID string) ([]*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	children := make([]*Proposal, 0)
	for _, proposal := range m.proposals {
		if proposal.ParentID == parentID && parentID != "" {
			children = append(children, cloneProposal(proposal))
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].CreatedAt != children[j].CreatedAt {
			return children[i].CreatedAt < children[j].CreatedAt
		}
		return children[i].ID < children[j].ID
	})
	return children, nil
}

// CreateExecution 追加一条执行记录。
func (m *MemoryStore) CreateExecution(_ context.Context, execution *Execution) error {
	if execution == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "execution 不能为空")
	}
	if execution.ID == "" || execution.ProposalID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录缺少 ID 或提案 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[execution.ID]; ok {
		return ErrProposalConflict
	}
	if _, ok := m.byProposal[execution.ProposalID]; ok {
		return ErrProposalConflict
	}
	now := time.Now().Unix()
	if execution.CreatedAt == 0 {
		execution.CreatedAt = now
	}
	execution.UpdatedAt = now
	if execution.Outcome == "" {
		execution.Outcome = OutcomePending
	}
	m.executions[execution.ID] = cloneExecution(execution)
	m.byProposal[execution.ProposalID] = execution.ID
	return nil
}

// GetExecution 返回执行记录。
func (m *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	execution, ok := m.executions[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneExecution(execution), nil
}

// GetExecutionByProposal 按提案查找执行记录。
func (m *MemoryStore) GetExecutionByProposal(_ context.Context, proposalID string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProposal[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneExecution(m.executions[id]), nil
}

// RecordOutcome 补写事后评估，已有结论时拒绝。
func (m *MemoryStore) RecordOutcome(_ context.Context, executionID string, outcome ReviewOutcome, category, notes string) error {
	if outcome != OutcomeCorrect && outcome != OutcomeIncorrect {
		return xerrors.New(xerrors.CodeInvalidArgument, "事后评估结论必须是 correct 或 incorrect")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[executionID]
	if !ok {
		return ErrProposalNotFound
	}
	if execution.Outcome != OutcomePending {
		return ErrProposalConflict
	}
	execution.Outcome = outcome
	execution.MistakeCategory = strings.TrimSpace(category)
	if outcome == OutcomeIncorrect && execution.MistakeCategory == "" {
		execution.MistakeCategory = "uncategorized"
	}
	execution.FeedbackNotes = notes
	execution.UpdatedAt = time.Now().Unix()
	return nil
}

// MistakeGroups 聚合被判定错误的执行记录。
func (m *MemoryStore) MistakeGroups(_ context.Context, agentID string, since int64, minCount int) ([]MistakeGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		agent    string
		action   string
		category string
	}
	groups := make(map[key]*MistakeGroup)
	for _, execution := range m.executions {
		if execution.Outcome != OutcomeIncorrect {
			continue
		}
		if agentID != "" && execution.AgentID != agentID {
			continue
		}
		if since > 0 && execution.CreatedAt < since {
			continue
		}
		k := key{execution.AgentID, execution.ActionName, execution.MistakeCategory}
		group, ok := groups[k]
		if !ok {
			group = &MistakeGroup{
				AgentID:    execution.AgentID,
				ActionName: execution.ActionName,
				Category:   execution.MistakeCategory,
			}
			groups[k] = group
		}
		group.Count++
		if execution.CreatedAt > group.LastSeen {
			group.LastSeen = execution.CreatedAt
		}
	}
	result := make([]MistakeGroup, 0, len(groups))
	for _, group := range groups {
		if group.Count >= minCount {
			result = append(result, *group)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		if result[i].ActionName != result[j].ActionName {
			return result[i].ActionName < result[j].ActionName
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

// CalibrationRows 返回带事后结论的置信度样本。
func (m *MemoryStore) CalibrationRows(_ context.Context, agentID string, since int64) ([]CalibrationRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]CalibrationRow, 0)
	for _, execution := range m.executions {
		if execution.Outcome == OutcomePending {
			continue
		}
		if agentID != "" && execution.AgentID != agentID {
			continue
		}
		if since > 0 && execution.CreatedAt < since {
			continue
		}
		proposal, ok := m.proposals[execution.ProposalID]
		if !ok {
			continue
		}
		rows = append(rows, CalibrationRow{
			Confidence: proposal.Reasoning.Confidence,
			Correct:    execution.Outcome == OutcomeCorrect,
		})
	}
	return rows, nil
}

// ActionOutcomes 按动作聚合提案去向。
func (m *MemoryStore) ActionOutcomes(_ context.Context, agentID string, since int64) ([]ActionOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	outcomes := make(map[string]*ActionOutcome)
	for _, proposal := range m.proposals {
		if agentID != "" && proposal.AgentID != agentID {
			continue
		}
		if since > 0 && proposal.CreatedAt < since {
			continue
		}
		outcome, ok := outcomes[proposal.ActionName]
		if !ok {
			outcome = &ActionOutcome{ActionName: proposal.ActionName}
			outcomes[proposal.ActionName] = outcome
		}
		outcome.Proposed++
		switch proposal.Status {
		case StatusApproved:
			outcome.Approved++
		case StatusRejected:
			outcome.Rejected++
		}
	}
	for _, execution := range m.executions {
		if agentID != "" && execution.AgentID != agentID {
			continue
		}
		if since > 0 && execution.CreatedAt < since {
			continue
		}
		outcome, ok := outcomes[execution.ActionName]
		if !ok {
			outcome = &ActionOutcome{ActionName: execution.ActionName}
			outcomes[execution.ActionName] = outcome
		}
		outcome.Executed++
		if !execution.Success {
			outcome.Failed++
		}
	}
	result := make([]ActionOutcome, 0, len(outcomes))
	for _, outcome := range outcomes {
		result = append(result, *outcome)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ActionName < result[j].ActionName
	})
	return result, nil
}

// Stats 返回账本统计。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (LedgerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := LedgerStats{}
	for _, proposal := range m.proposals {
		if !matchProposal(proposal, opts) {
			continue
		}
		stats.Total++
		switch proposal.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
			if proposal.SelfApproved() {
				stats.SelfApproved++
			}
		case StatusRejected:
			stats.Rejected++
		}
		if stats.OldestCreatedAt == 0 || proposal.CreatedAt < stats.OldestCreatedAt {
			stats.OldestCreatedAt = proposal.CreatedAt
		}
		if proposal.CreatedAt > stats.NewestCreatedAt {
			stats.NewestCreatedAt = proposal.CreatedAt
		}
	}
	for _, execution := range m.executions {
		if opts.AgentID != "" && execution.AgentID != opts.AgentID {
			continue
		}
		if opts.ActionName != "" && execution.ActionName != opts.ActionName {
			continue
		}
		if opts.CreatedGTE > 0 && execution.CreatedAt < opts.CreatedGTE {
			continue
		}
		if opts.CreatedLTE > 0 && execution.CreatedAt > opts.CreatedLTE {
			continue
		}
		stats.Executions++
		if !execution.Success {
			stats.ExecutionFailures++
		}
		switch execution.Outcome {
		case OutcomeCorrect:
			stats.OutcomeCorrect++
		case OutcomeIncorrect:
			stats.OutcomeIncorrect++
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}

func matchProposal(proposal *Proposal, opts ListOptions) bool {
	if opts.AgentID != "" && proposal.AgentID != opts.AgentID {
		return false
	}
	if opts.ActionName != "" && proposal.ActionName != opts.ActionName {
		return false
	}
	if opts.ParentID != "" && proposal.ParentID != opts.ParentID {
		return false
	}
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if proposal.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.CreatedGTE > 0 && proposal.CreatedAt < opts.CreatedGTE {
		return false
	}
	if opts.CreatedLTE > 0 && proposal.CreatedAt > opts.CreatedLTE {
		return false
	}
	return true
}

func cloneProposal(proposal *Proposal) *Proposal {
	clone := *proposal
	clone.Params = cloneParams(proposal.Params)
	clone.Result = cloneParams(proposal.Result)
	return &clone
}

func cloneExecution(execution *Execution) *Execution {
	clone := *execution
	clone.Result = cloneParams(execution.Result)
	return &clone
}
