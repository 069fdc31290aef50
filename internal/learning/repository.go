package learning

import "context"

// Repository 抽象了学习记录的持久化接口。
type Repository interface {
	SaveLearning(ctx context.Context, learning *Learning) error
	SetLearningState(ctx context.Context, id string, state State) error
	// ListLearnings 返回某智能体的学习记录，kind 或 state 为空表示不过滤。
	ListLearnings(ctx context.Context, agentID string, kind Kind, state State) ([]*Learning, error)
	// LatestLearning 返回某智能体指定种类的最新一条记录，
	// actionName 为空表示不按动作过滤。
	LatestLearning(ctx context.Context, agentID, actionName string, kind Kind, state State) (*Learning, error)

	// UpsertPattern 以 (agent, action, category) 为键更新失误模式。
	UpsertPattern(ctx context.Context, pattern *MistakePattern) error
	ListPatterns(ctx context.Context, agentID string, activeOnly bool) ([]*MistakePattern, error)

	// SaveRule 以 (agent, action, category) 幂等写入纠正规则，
	// 已存在时返回 ErrLearningConflict。
	SaveRule(ctx context.Context, rule *CorrectionRule) error
	ListRules(ctx context.Context, agentID, actionName string) ([]*CorrectionRule, error)

	Close() error
}
