package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 AgentGov 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Metrics      MetricsConfig      `json:"metrics"`
	Storage      StorageConfig      `json:"storage"`
	Dispatch     DispatchConfig     `json:"dispatch"`
	Registry     RegistryConfig     `json:"registry"`
	Learning     LearningConfig     `json:"learning"`
	Coordination CoordinationConfig `json:"coordination"`
	Alerting     AlertingConfig     `json:"alerting"`
	Log          LogConfig          `json:"log"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制审阅接口服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制指标服务的监听地址，留空表示不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述账本与学习存储的连接信息。
type StorageConfig struct {
	Ledger        StoreConfig `json:"ledger"`
	LearningStore StoreConfig `json:"learning_store"`
}

// StoreConfig 描述单个存储后端，支持 memory 与 mysql 两种驱动。
type StoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// DispatchConfig 描述已批准提案的执行分发队列与执行回调。
type DispatchConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Handler  HandlerConfig  `json:"handler"`
}

// HandlerConfig 描述执行回调的投递方式。echo 驱动原样返回参数，
// 仅用于开发环境；webhook 驱动把执行请求投递给智能体进程。
type HandlerConfig struct {
	Driver         string            `json:"driver"`
	Endpoints      map[string]string `json:"endpoints"`
	Fallback       string            `json:"fallback"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RegistryConfig 指向动作目录文件。
type RegistryConfig struct {
	Catalog string `json:"catalog"`
}

// LearningConfig 控制学习引擎的批处理周期。
type LearningConfig struct {
	IntervalMinutes int      `json:"interval_minutes"`
	WindowDays      int      `json:"window_days"`
	MinOccurrences  int      `json:"min_occurrences"`
	Agents          []string `json:"agents"`
}

// CoordinationConfig 控制子任务等待的轮询参数。
type CoordinationConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"`
}

// AlertingConfig 描述执行失败等事件的告警渠道，留空表示不告警。
type AlertingConfig struct {
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
	SlackChannel    string `json:"slack_channel"`
}

// LogConfig 描述日志与审计输出。
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 描述治理审计日志的落盘与轮转策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}
	if c.Storage.LearningStore.Driver == "" {
		c.Storage.LearningStore.Driver = c.Storage.Ledger.Driver
	}
	if c.Storage.LearningStore.DSN == "" {
		c.Storage.LearningStore.DSN = c.Storage.Ledger.DSN
	}

	if c.Dispatch.Driver == "" {
		c.Dispatch.Driver = "memory"
	}
	if c.Dispatch.Worker <= 0 {
		c.Dispatch.Worker = 4
	}
	if c.Dispatch.Handler.Driver == "" {
		c.Dispatch.Handler.Driver = "echo"
	}
	if c.Dispatch.Handler.TimeoutSeconds <= 0 {
		c.Dispatch.Handler.TimeoutSeconds = 30
	}

	if c.Registry.Catalog == "" {
		c.Registry.Catalog = filepath.Join(baseDir, "actions.yaml")
	} else if !filepath.IsAbs(c.Registry.Catalog) {
		c.Registry.Catalog = filepath.Join(baseDir, c.Registry.Catalog)
	}

	if c.Learning.IntervalMinutes <= 0 {
		c.Learning.IntervalMinutes = 60
	}
	if c.Learning.WindowDays <= 0 {
		c.Learning.WindowDays = 30
	}
	if c.Learning.MinOccurrences <= 0 {
		c.Learning.MinOccurrences = 3
	}

	if c.Coordination.PollIntervalMS <= 0 {
		c.Coordination.PollIntervalMS = 500
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
