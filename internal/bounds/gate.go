package bounds

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "AgentGov-Core/internal/errors"
	"AgentGov-Core/internal/registry"
	"AgentGov-Core/pkg/logger"
)

const (
	CodeBoundsViolation xerrors.Code = "BOUNDS_VIOLATION"
)

// ErrBoundsViolation 表示一次调用越过了边界策略，执行绝不允许继续。
var ErrBoundsViolation = xerrors.New(CodeBoundsViolation, "bounds violation", xerrors.WithSeverity(xerrors.SeverityCritical))

func init() {
	xerrors.Register(CodeBoundsViolation, xerrors.Attributes{
		Message:   "bounds violation",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Result 汇总一次边界检查的结论。Violations 非空时 WithinBounds 必为 false。
type Result struct {
	WithinBounds   bool                   `json:"within_bounds"`
	Violations     []string               `json:"violations"`
	EffectiveLevel registry.AutonomyLevel `json:"effective_level"`
	RequireReview  bool                   `json:"require_review"`
}

// OverrideSource 提供某个智能体在某动作上的有效自治等级。
// 学习引擎批准的自治调整通过该接口生效；查询失败时边界门退回目录上限，
// 不会因此放行或阻断调用。
type OverrideSource interface {
	EffectiveAutonomy(ctx context.Context, agentID, actionName string) (registry.AutonomyLevel, bool, error)
}

// ThresholdSource 提供某个智能体在某动作上生效中的置信度阈值调整，
// 正值收紧、负值放宽。查询失败时边界门按目录下限裁决。
type ThresholdSource interface {
	ThresholdDelta(ctx context.Context, agentID, actionName string) (float64, error)
}

// Gate 在任何执行发生之前裁决一次调用是否越界。
// 检查是幂等且无副作用的，提案前与执行前都会调用。
type Gate struct {
	registry   *registry.Registry
	overrides  OverrideSource
	thresholds ThresholdSource
}

// Option 定义可选的 Gate 配置。
type Option func(*Gate)

// WithOverrideSource 配置自治等级覆盖来源。
func WithOverrideSource(src OverrideSource) Option {
	return func(g *Gate) {
		g.overrides = src
	}
}

// WithThresholdSource 配置置信度阈值调整来源。
func WithThresholdSource(src ThresholdSource) Option {
	return func(g *Gate) {
		g.thresholds = src
	}
}

// NewGate 构造边界门。
func NewGate(reg *registry.Registry, opts ...Option) *Gate {
	g := &Gate{registry: reg}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check 裁决 (agent, action, confidence) 这一次调用。
//
// 策略表（固定，不随置信度放宽）：
//  1. 停用的动作一律越界。
//  2. 置信度必须落在 [0,1] 且不低于动作的下限。
//  3. 高风险且不可逆的动作至多按 supervised 执行，必须经人工审阅。
//  4. 有效自治等级取目录上限与学习覆盖中的较低者。
func (g *Gate) Check(ctx context.Context, agentID, actionName string, confidence float64) (Result, error) {
	if g == nil || g.registry == nil {
		return Result{}, xerrors.New(xerrors.CodeInitializationFailure, "边界门未初始化")
	}

	action, err := g.registry.Get(actionName)
	if err != nil {
		return Result{}, err
	}

	minConfidence := action.MinConfidence
	if g.thresholds != nil {
		delta, err := g.thresholds.ThresholdDelta(ctx, agentID, actionName)
		if err != nil {
			logger.L().Warn("查询阈值调整失败，使用目录下限",
				slog.Any("error", err),
				slog.String("agent_id", agentID),
				slog.String("action", actionName),
			)
		} else {
			minConfidence = clamp01(action.MinConfidence + delta)
		}
	}

	var violations []string
	if !action.Enabled {
		violations = append(violations, fmt.Sprintf("action %s is disabled", action.Name))
	}
	if confidence < 0 || confidence > 1 {
		violations = append(violations, fmt.Sprintf("confidence %.2f outside [0,1]", confidence))
	} else if confidence < minConfidence {
		violations = append(violations, fmt.Sprintf("confidence %.2f below effective minimum %.2f", confidence, minConfidence))
	}

	effective := action.AutonomyLevel
	if g.overrides != nil {
		override, ok, err := g.overrides.EffectiveAutonomy(ctx, agentID, actionName)
		if err != nil {
			// 覆盖来源故障时退回目录上限，检查本身保持无副作用。
			logger.L().Warn("查询自治覆盖失败，使用目录上限",
				slog.Any("error", err),
				slog.String("agent_id", agentID),
				slog.String("action", actionName),
			)
		} else if ok && override.Rank() < effective.Rank() {
			effective = override
		}
	}

	// 高风险且不可逆的动作无论置信度多高都不得越过 supervised。
	if action.RiskLevel == registry.RiskHigh && !action.Reversible {
		if effective.Rank() > registry.AutonomySupervised.Rank() {
			effective = registry.AutonomySupervised
		}
	}

	return Result{
		WithinBounds:   len(violations) == 0,
		Violations:     violations,
		EffectiveLevel: effective,
		RequireReview:  !effective.AllowsSelfApproval(),
	}, nil
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
