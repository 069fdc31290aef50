package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentGov-Core/internal/api"
	"AgentGov-Core/internal/bounds"
	"AgentGov-Core/internal/config"
	"AgentGov-Core/internal/coordination"
	"AgentGov-Core/internal/learning"
	"AgentGov-Core/internal/ledger"
	"AgentGov-Core/internal/observability/alerting"
	"AgentGov-Core/internal/observability/metrics"
	"AgentGov-Core/internal/registry"
	storagemysql "AgentGov-Core/internal/storage/mysql"
	"AgentGov-Core/pkg/logger"
)

// main 是 AgentGov 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		log.Fatalf("agentgovd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTGOV_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentgov.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg, err := registry.LoadCatalog(cfg.Registry.Catalog)
	if err != nil {
		return err
	}

	store, err := buildLedgerStore(cfg)
	if err != nil {
		return err
	}

	repo, err := buildLearningRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	policy := learning.DefaultPolicy()
	policy.WindowDays = cfg.Learning.WindowDays
	policy.MinOccurrences = cfg.Learning.MinOccurrences
	engine := learning.NewEngine(store, repo, reg, policy)

	gate := bounds.NewGate(reg,
		bounds.WithOverrideSource(engine),
		bounds.WithThresholdSource(engine),
	)

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	svc := ledger.NewService(store, queue, reg, gate)
	defer func() { _ = svc.Close() }()

	handler, err := buildHandler(cfg)
	if err != nil {
		return err
	}

	processorOpts := []ledger.ProcessorOption{
		ledger.WithWorkerCount(cfg.Dispatch.Worker),
	}
	if dispatcher := buildAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, ledger.WithAlertDispatcher(dispatcher))
	}
	processor := ledger.NewProcessor(handler, store, queue, gate, processorOpts...)

	// 补投上次停机时滞留的已批准提案。
	if recovered, err := ledger.RecoverPending(ctx, store, queue); err != nil {
		logger.L().Warn("补投滞留提案失败", slog.Any("error", err))
	} else if recovered > 0 {
		logger.L().Info("补投滞留提案完成", slog.Int("count", recovered))
	}

	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			logger.L().Error("执行处理器异常退出", slog.Any("error", err))
		}
	}()

	if len(cfg.Learning.Agents) > 0 {
		scheduler := learning.NewScheduler(engine, cfg.Learning.Agents,
			time.Duration(cfg.Learning.IntervalMinutes)*time.Minute)
		go func() {
			if err := scheduler.Run(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				logger.L().Error("学习调度器异常退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !stdErrors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	coord := coordination.NewCoordinator(svc, store,
		coordination.WithPollInterval(time.Duration(cfg.Coordination.PollIntervalMS)*time.Millisecond))

	server := api.NewServer(cfg.Server.Address, svc, engine, coord)
	logger.L().Info("agentgovd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("ledger_driver", cfg.Storage.Ledger.Driver),
		slog.String("dispatch_driver", cfg.Dispatch.Driver),
	)
	if err := server.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLedgerStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Ledger.Driver {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "mysql":
		return ledger.NewMySQLStore(cfg.Storage.Ledger.DSN)
	default:
		return nil, fmt.Errorf("未知的账本存储驱动: %s", cfg.Storage.Ledger.Driver)
	}
}

func buildLearningRepository(ctx context.Context, cfg *config.Config) (learning.Repository, error) {
	switch cfg.Storage.LearningStore.Driver {
	case "", "memory":
		return learning.NewMemoryRepository(), nil
	case "mysql":
		return storagemysql.NewSQLLearningRepository(ctx, storagemysql.Config{
			DSN:             cfg.Storage.LearningStore.DSN,
			MaxOpenConns:    cfg.Storage.LearningStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.LearningStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.LearningStore.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的学习存储驱动: %s", cfg.Storage.LearningStore.Driver)
	}
}

func buildQueue(cfg *config.Config) (ledger.Queue, error) {
	switch cfg.Dispatch.Driver {
	case "", "memory":
		return ledger.NewMemoryQueue(1024), nil
	case "redis":
		return ledger.NewRedisQueue(ledger.RedisQueueConfig{
			Address:   cfg.Dispatch.Redis.Address,
			Password:  cfg.Dispatch.Redis.Password,
			DB:        cfg.Dispatch.Redis.DB,
			Queue:     cfg.Dispatch.Redis.Queue,
			BlockWait: time.Duration(cfg.Dispatch.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return ledger.NewRabbitMQQueue(ledger.RabbitMQConfig{
			URL:        cfg.Dispatch.RabbitMQ.URL,
			Queue:      cfg.Dispatch.RabbitMQ.Queue,
			Prefetch:   cfg.Dispatch.RabbitMQ.Prefetch,
			Durable:    cfg.Dispatch.RabbitMQ.Durable,
			AutoDelete: cfg.Dispatch.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Dispatch.Driver)
	}
}

func buildHandler(cfg *config.Config) (ledger.Handler, error) {
	switch cfg.Dispatch.Handler.Driver {
	case "", "echo":
		// 开发环境下原样回显参数，方便在没有真实智能体时联调。
		return ledger.HandlerFunc(func(_ context.Context, invocation ledger.Invocation) (map[string]any, error) {
			return map[string]any{
				"echo":   true,
				"action": invocation.ActionName,
				"params": invocation.Params,
			}, nil
		}), nil
	case "webhook":
		client := &http.Client{Timeout: time.Duration(cfg.Dispatch.Handler.TimeoutSeconds) * time.Second}
		return ledger.NewWebhookHandler(cfg.Dispatch.Handler.Endpoints, cfg.Dispatch.Handler.Fallback, client), nil
	default:
		return nil, fmt.Errorf("未知的执行回调驱动: %s", cfg.Dispatch.Handler.Driver)
	}
}

func buildAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	notifiers := make([]alerting.Notifier, 0, 2)
	if cfg.Alerting.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhookSender{Endpoint: cfg.Alerting.DingTalkWebhook},
		})
	}
	if cfg.Alerting.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{Endpoint: cfg.Alerting.SlackWebhook},
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
