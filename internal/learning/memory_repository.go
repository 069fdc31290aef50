package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentGov-Core/internal/errors"
)

// MemoryRepository 以内存方式保存学习记录，主要用于测试与单机部署。
type MemoryRepository struct {
	mu        sync.RWMutex
	learnings map[string]*Learning
	patterns  map[patternKey]*MistakePattern
	rules     map[patternKey]*CorrectionRule
}

type patternKey struct {
	agent    string
	action   string
	category string
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		learnings: make(map[string]*Learning),
		patterns:  make(map[patternKey]*MistakePattern),
		rules:     make(map[patternKey]*CorrectionRule),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// SaveLearning 写入学习记录。
func (m *MemoryRepository) SaveLearning(_ context.Context, learning *Learning) error {
	if learning == nil || learning.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "学习记录缺少 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.learnings[learning.ID]; ok {
		return ErrLearningConflict
	}
	now := time.Now().Unix()
	if learning.CreatedAt == 0 {
		learning.CreatedAt = now
	}
	learning.UpdatedAt = now
	if learning.State == "" {
		learning.State = StateProposed
	}
	clone := *learning
	m.learnings[learning.ID] = &clone
	return nil
}

// SetLearningState 更新学习记录的生效状态。
func (m *MemoryRepository) SetLearningState(_ context.Context, id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	learning, ok := m.learnings[id]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "学习记录不存在: "+id)
	}
	learning.State = state
	learning.UpdatedAt = time.Now().Unix()
	return nil
}

// ListLearnings 返回符合过滤条件的学习记录。
func (m *MemoryRepository) ListLearnings(_ context.Context, agentID string, kind Kind, state State) ([]*Learning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Learning, 0)
	for _, learning := range m.learnings {
		if agentID != "" && learning.AgentID != agentID {
			continue
		}
		if kind != "" && learning.Kind != kind {
			continue
		}
		if state != "" && learning.State != state {
			continue
		}
		clone := *learning
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// LatestLearning 返回最新一条记录，没有时返回 nil。
func (m *MemoryRepository) LatestLearning(ctx context.Context, agentID, actionName string, kind Kind, state State) (*Learning, error) {
	learnings, err := m.ListLearnings(ctx, agentID, kind, state)
	if err != nil {
		return nil, err
	}
	for _, learning := range learnings {
		if actionName != "" && learning.ActionName != actionName {
			continue
		}
		return learning, nil
	}
	return nil, nil
}

// UpsertPattern 更新或插入失误模式。
func (m *MemoryRepository) UpsertPattern(_ context.Context, pattern *MistakePattern) error {
	if pattern == nil || pattern.AgentID == "" || pattern.ActionName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "失误模式缺少必要字段")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := patternKey{pattern.AgentID, pattern.ActionName, pattern.Category}
	now := time.Now().Unix()
	if existing, ok := m.patterns[key]; ok {
		existing.Count = pattern.Count
		existing.LastSeen = pattern.LastSeen
		existing.Active = pattern.Active
		existing.UpdatedAt = now
		pattern.ID = existing.ID
		return nil
	}
	if pattern.CreatedAt == 0 {
		pattern.CreatedAt = now
	}
	pattern.UpdatedAt = now
	clone := *pattern
	m.patterns[key] = &clone
	return nil
}

// ListPatterns 返回失误模式。
func (m *MemoryRepository) ListPatterns(_ context.Context, agentID string, activeOnly bool) ([]*MistakePattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*MistakePattern, 0)
	for _, pattern := range m.patterns {
		if agentID != "" && pattern.AgentID != agentID {
			continue
		}
		if activeOnly && !pattern.Active {
			continue
		}
		clone := *pattern
		result = append(result, &clone)
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

// SaveRule 幂等写入纠正规则。
func (m *MemoryRepository) SaveRule(_ context.Context, rule *CorrectionRule) error {
	if rule == nil || rule.AgentID == "" || rule.ActionName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "纠正规则缺少必要字段")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := patternKey{rule.AgentID, rule.ActionName, rule.Category}
	if _, ok := m.rules[key]; ok {
		return ErrLearningConflict
	}
	if rule.CreatedAt == 0 {
		rule.CreatedAt = time.Now().Unix()
	}
	clone := *rule
	m.rules[key] = &clone
	return nil
}

// ListRules 返回纠正规则。
func (m *MemoryRepository) ListRules(_ context.Context, agentID, actionName string) ([]*CorrectionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*CorrectionRule, 0)
	for _, rule := range m.rules {
		if agentID != "" && rule.AgentID != agentID {
			continue
		}
		if actionName != "" && rule.ActionName != actionName {
			continue
		}
		clone := *rule
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ActionName != result[j].ActionName {
			return result[i].ActionName < result[j].ActionName
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

// Close 实现 Repository 接口。
func (m *MemoryRepository) Close() error {
	return nil
}
