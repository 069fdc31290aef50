package ledger

import "context"

// Invocation 是移交给执行方的一次动作调用。
type Invocation struct {
	ProposalID string
	AgentID    string
	ActionName string
	Params     map[string]any
}

// Handler 定义了处理器所需的执行能力。执行方通常是外部系统的适配器，
// 账本只关心结果与错误。
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// HandlerFunc 将普通函数适配为 Handler。
type HandlerFunc func(ctx context.Context, inv Invocation) (map[string]any, error)

// Execute 实现 Handler 接口。
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	return f(ctx, inv)
}
