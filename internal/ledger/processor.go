package ledger

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"AgentGov-Core/internal/bounds"
	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/observability/alerting"
	"AgentGov-Core/internal/observability/metrics"
	"AgentGov-Core/pkg/logger"
)

// Processor 负责从执行队列消费已批准的提案并交给执行方。
// 边界门在执行前会再次裁决，批准之后才发生的目录或自治变更由此生效。
type Processor struct {
	handler     Handler
	store       Store
	consumer    Consumer
	gate        *bounds.Gate
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(handler Handler, store Store, consumer Consumer, gate *bounds.Gate, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:     handler,
		store:       store,
		consumer:    consumer,
		gate:        gate,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动提案处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置提案消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, proposalID string) error {
	if p.store == nil || p.handler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	proposal, err := p.store.GetProposal(ctx, proposalID)
	if err != nil {
		if stdErrors.Is(err, ErrProposalNotFound) {
			p.logDebug("跳过未知提案", slog.String("proposal_id", proposalID))
			return nil
		}
		logger.L().Error("读取提案失败", slog.Any("error", err), slog.String("proposal_id", proposalID))
		return err
	}
	if proposal.Status != StatusApproved {
		p.logDebug("跳过非批准状态的提案",
			slog.String("proposal_id", proposal.ID),
			slog.String("status", string(proposal.Status)),
		)
		return nil
	}
	// 已有执行记录说明消息是重放的，账本保持每个提案至多一条执行。
	if _, err := p.store.GetExecutionByProposal(ctx, proposal.ID); err == nil {
		p.logDebug("提案已执行过", slog.String("proposal_id", proposal.ID))
		return nil
	} else if !stdErrors.Is(err, ErrProposalNotFound) {
		return err
	}

	// 执行前重新裁决。批准之后目录被停用或自治被下调的提案在这里拦截。
	// 执行记录只在边界门放行后产生，被拦下的提案留在账本中不动，
	// 账本只追加审计与告警。
	if p.gate != nil {
		check, err := p.gate.Check(ctx, proposal.AgentID, proposal.ActionName, proposal.Reasoning.Confidence)
		if err != nil || !check.WithinBounds {
			cause := "action no longer resolvable"
			if err == nil {
				cause = "bounds violation at execution time"
			}
			logger.Audit().Warn("提案在执行前被边界门拦截",
				slog.String("proposal_id", proposal.ID),
				slog.String("agent_id", proposal.AgentID),
				slog.String("action", proposal.ActionName),
				slog.String("error", cause),
				slog.Any("violations", check.Violations),
			)
			p.emitAlert(ctx, proposal, bounds.CodeBoundsViolation, cause)
			return nil
		}
	}

	started := time.Now()
	result, execErr := p.handler.Execute(ctx, Invocation{
		ProposalID: proposal.ID,
		AgentID:    proposal.AgentID,
		ActionName: proposal.ActionName,
		Params:     cloneParams(proposal.Params),
	})
	elapsed := time.Since(started)

	if execErr != nil {
		code := xerrors.CodeOf(execErr)
		if code == xerrors.CodeUnknown {
			code = CodeExecutionFailed
		}
		return p.recordFailure(ctx, proposal, code, execErr.Error(), elapsed)
	}

	execution := &Execution{
		ID:           uuid.NewString(),
		ProposalID:   proposal.ID,
		AgentID:      proposal.AgentID,
		ActionName:   proposal.ActionName,
		Success:      true,
		WithinBounds: true,
		Result:       result,
		DurationMS:   elapsed.Milliseconds(),
		Outcome:      OutcomePending,
	}
	if err := p.store.CreateExecution(ctx, execution); err != nil {
		if stdErrors.Is(err, ErrProposalConflict) {
			return nil
		}
		logger.L().Error("写入执行记录失败", slog.Any("error", err), slog.String("proposal_id", proposal.ID))
		return err
	}
	if err := p.store.SetResult(ctx, proposal.ID, result); err != nil {
		logger.L().Error("回写提案结果失败", slog.Any("error", err), slog.String("proposal_id", proposal.ID))
	}
	metrics.ObserveExecution(proposal.ActionName, true)
	logger.Audit().Info("提案执行成功",
		slog.String("proposal_id", proposal.ID),
		slog.String("agent_id", proposal.AgentID),
		slog.String("action", proposal.ActionName),
		slog.Int64("duration_ms", execution.DurationMS),
	)
	return nil
}

// recordFailure 将失败写入账本。失败的执行是一条 success=false 的记录，
// 消息不会重投，补救由审阅面与学习引擎基于账本决定。
func (p *Processor) recordFailure(ctx context.Context, proposal *Proposal, code xerrors.Code, cause string, elapsed time.Duration) error {
	execution := &Execution{
		ID:           uuid.NewString(),
		ProposalID:   proposal.ID,
		AgentID:      proposal.AgentID,
		ActionName:   proposal.ActionName,
		Success:      false,
		WithinBounds: true,
		ErrorCode:    string(code),
		LastError:    cause,
		DurationMS:   elapsed.Milliseconds(),
		Outcome:      OutcomePending,
	}
	if err := p.store.CreateExecution(ctx, execution); err != nil {
		if stdErrors.Is(err, ErrProposalConflict) {
			return nil
		}
		logger.L().Error("写入失败执行记录出错", slog.Any("error", err), slog.String("proposal_id", proposal.ID))
		return err
	}
	metrics.ObserveExecution(proposal.ActionName, false)
	logger.Audit().Warn("提案执行失败",
		slog.String("proposal_id", proposal.ID),
		slog.String("agent_id", proposal.AgentID),
		slog.String("action", proposal.ActionName),
		slog.String("error_code", string(code)),
		slog.String("error", cause),
	)
	p.emitAlert(ctx, proposal, code, cause)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, proposal *Proposal, code xerrors.Code, cause string) {
	if p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause,
		Severity:   attrs.Severity,
		ProposalID: proposal.ID,
		AgentID:    proposal.AgentID,
		ActionName: proposal.ActionName,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Warn("告警派发失败", slog.Any("error", err), slog.String("proposal_id", proposal.ID))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	target := p.logger
	if target == nil {
		target = logger.L()
	}
	target.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
