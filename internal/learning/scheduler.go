package learning

import (
	"context"
	"log/slog"
	"time"

	"AgentGov-Core/pkg/logger"
)

// Scheduler 周期性地为已知智能体运行学习周期。
type Scheduler struct {
	engine   *Engine
	agents   []string
	interval time.Duration
}

// NewScheduler 构造 Scheduler。
func NewScheduler(engine *Engine, agents []string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{engine: engine, agents: agents, interval: interval}
}

// Run 阻塞运行直到上下文取消。启动时先跑一轮，之后按间隔触发。
func (s *Scheduler) Run(ctx context.Context) error {
	if s.engine == nil || len(s.agents) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	for _, agentID := range s.agents {
		if ctx.Err() != nil {
			return
		}
		report := s.engine.RunLearningCycle(ctx, agentID)
		logger.L().Debug("学习周期报告",
			slog.String("agent_id", agentID),
			slog.Int("patterns", len(report.Patterns)),
			slog.Int("skipped", len(report.SkippedPhases)),
		)
	}
}
