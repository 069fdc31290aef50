// Package coordination 让一个智能体把子任务委派给其他智能体执行。
// 协同不引入新的通信通道，父子任务都是账本里的提案，等待方通过
// 有界轮询观察子任务是否到达终态。超时只对等待方生效，被委派的
// 任务不会被取消，晚到的结果仍然有效。
package coordination

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/pkg/logger"
)

// SubTask 描述一次要委派出去的子任务。
type SubTask struct {
	TargetAgentID string           `json:"target_agent_id"`
	ActionName    string           `json:"action_name"`
	Params        map[string]any   `json:"params,omitempty"`
	Reasoning     ledger.Reasoning `json:"reasoning"`
	Priority      ledger.Priority  `json:"priority,omitempty"`
}

// SubTaskResult 汇总一个子任务的当前结局。超时不是错误，
// 而是 TimedOut 置位的一条结果。
type SubTaskResult struct {
	SubTaskID  string         `json:"sub_task_id"`
	AgentID    string         `json:"agent_id"`
	ActionName string         `json:"action_name"`
	Status     ledger.Status  `json:"status"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	TimedOut   bool           `json:"timed_out,omitempty"`
}

// Terminal 报告子任务是否已经走到底：被拒绝，或批准且执行完成。
func (r SubTaskResult) Terminal() bool {
	if r.TimedOut {
		return false
	}
	if r.Status == ledger.StatusRejected {
		return true
	}
	return r.Status == ledger.StatusApproved && r.Result != nil
}

// Coordinator 基于提案账本实现父子任务的派发、等待与汇总。
type Coordinator struct {
	svc          *ledger.Service
	store        ledger.Store
	pollInterval time.Duration
}

// Option 配置 Coordinator。
type Option func(*Coordinator)

// WithPollInterval 设置等待子任务时的轮询间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewCoordinator 创建 Coordinator。
func NewCoordinator(svc *ledger.Service, store ledger.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		svc:          svc,
		store:        store,
		pollInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SpawnSubTask 以目标智能体的名义登记一个子提案并返回其 ID。
// 子提案与普通提案走完全相同的边界检查与审核流程；parentID 非空时
// 父提案被推进到 coordinating 阶段。
func (c *Coordinator) SpawnSubTask(ctx context.Context, parentID string, task SubTask) (string, error) {
	if c.svc == nil || c.store == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "协同层未初始化")
	}
	if task.TargetAgentID == "" || task.ActionName == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "子任务缺少目标智能体或动作名")
	}
	if parentID != "" {
		if _, err := c.svc.Get(ctx, parentID); err != nil {
			return "", err
		}
	}

	proposal, err := c.svc.Propose(ctx, ledger.ProposalRequest{
		AgentID:    task.TargetAgentID,
		ActionName: task.ActionName,
		Params:     task.Params,
		Reasoning:  task.Reasoning,
		Priority:   task.Priority,
		ParentID:   parentID,
	})
	if err != nil {
		return "", err
	}

	if parentID != "" {
		if err := c.advance(ctx, parentID, ledger.CoordinationCoordinating); err != nil {
			return "", err
		}
	}

	logger.Audit().Info("子任务已派发",
		slog.String("parent_id", parentID),
		slog.String("sub_task_id", proposal.ID),
		slog.String("target_agent", task.TargetAgentID),
		slog.String("action", task.ActionName),
	)
	return proposal.ID, nil
}

// CoordinateAgents 批量派发子任务并立即返回各自的 ID，不做任何等待。
// 任何一个子任务派发失败都会中断派发并返回已派发的 ID 与错误，
// 已派发的子任务照常执行。
func (c *Coordinator) CoordinateAgents(ctx context.Context, parentID string, tasks []SubTask) ([]string, error) {
	if len(tasks) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "子任务列表为空")
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		id, err := c.SpawnSubTask(ctx, parentID, task)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WaitForSubTask 对子任务做有界轮询，直到其到达终态或超时。
// 超时作为数据返回（TimedOut=true），不是错误：被委派的任务不会被
// 取消，调用方之后仍可再次轮询拿到晚到的结果。
func (c *Coordinator) WaitForSubTask(ctx context.Context, subTaskID string, timeout time.Duration) (SubTaskResult, error) {
	if c.svc == nil || c.store == nil {
		return SubTaskResult{}, xerrors.New(xerrors.CodeInitializationFailure, "协同层未初始化")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// 等待本身只是协同记账，推进失败不影响轮询。
	if err := c.advance(ctx, subTaskID, ledger.CoordinationWaiting); err != nil {
		logger.L().Warn("推进子任务协同阶段失败", slog.Any("error", err), slog.String("sub_task_id", subTaskID))
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		result, done, err := c.snapshot(ctx, subTaskID)
		if err != nil {
			return SubTaskResult{}, err
		}
		if done {
			if err := c.advance(ctx, subTaskID, ledger.CoordinationComplete); err != nil {
				logger.L().Warn("标记子任务完成失败", slog.Any("error", err), slog.String("sub_task_id", subTaskID))
			}
			return result, nil
		}
		if time.Now().After(deadline) {
			result.TimedOut = true
			return result, nil
		}
		select {
		case <-ctx.Done():
			return SubTaskResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetSubTaskResults 汇总某个父提案所有子任务的结局，叶子提案返回空
// 切片。当所有子任务都已到达终态时，父提案被推进到 complete 阶段。
func (c *Coordinator) GetSubTaskResults(ctx context.Context, parentID string) ([]SubTaskResult, error) {
	if c.svc == nil || c.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "协同层未初始化")
	}

	children, err := c.store.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}

	results := make([]SubTaskResult, 0, len(children))
	allTerminal := len(children) > 0
	for _, child := range children {
		result, done, err := c.snapshot(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		if !done {
			allTerminal = false
		}
		results = append(results, result)
	}

	if allTerminal {
		if err := c.advance(ctx, parentID, ledger.CoordinationComplete); err != nil {
			logger.L().Warn("标记父提案完成失败", slog.Any("error", err), slog.String("parent_id", parentID))
		}
	}
	return results, nil
}

// snapshot 读取子任务的当前状态；done 表示已到达终态。
func (c *Coordinator) snapshot(ctx context.Context, subTaskID string) (SubTaskResult, bool, error) {
	proposal, err := c.svc.Get(ctx, subTaskID)
	if err != nil {
		return SubTaskResult{}, false, err
	}

	result := SubTaskResult{
		SubTaskID:  proposal.ID,
		AgentID:    proposal.AgentID,
		ActionName: proposal.ActionName,
		Status:     proposal.Status,
	}

	if proposal.Status == ledger.StatusRejected {
		return result, true, nil
	}
	if proposal.Status != ledger.StatusApproved {
		return result, false, nil
	}

	execution, err := c.store.GetExecutionByProposal(ctx, subTaskID)
	if err != nil {
		if xerrors.CodeOf(err) == ledger.CodeProposalNotFound || stdErrors.Is(err, ledger.ErrProposalNotFound) {
			return result, false, nil
		}
		return SubTaskResult{}, false, err
	}
	result.Success = execution.Success
	result.Result = execution.Result
	if result.Result == nil {
		result.Result = map[string]any{}
	}
	return result, true, nil
}

// advance 单向推进协同阶段，同阶段重复推进视为幂等成功。
func (c *Coordinator) advance(ctx context.Context, id string, status ledger.CoordinationStatus) error {
	err := c.store.SetCoordinationStatus(ctx, id, status)
	if err == nil {
		return nil
	}
	// 阶段已经走得比目标更远时按幂等处理，协同记账不回退。
	if xerrors.CodeOf(err) == ledger.CodeCoordinationRegress {
		return nil
	}
	return err
}
