package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述代理进程启动时需要加载的全部配置。
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Ledger      LedgerConfig      `json:"ledger"`
	Events      EventsConfig      `json:"events"`
	Advisory    AdvisoryConfig    `json:"advisory"`
	History     HistoryConfig     `json:"history"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Voice       VoiceConfig       `json:"voice"`
	A2A         A2AConfig         `json:"a2a"`
	Metrics     MetricsConfig     `json:"metrics"`
	Logger      LoggerConfig      `json:"logger"`
	Alerting    AlertingConfig    `json:"alerting"`
}

// AgentConfig 选择代理能力并控制竞价行为。
type AgentConfig struct {
	Capability        string `json:"capability"`
	PrivateKeyEnv     string `json:"private_key_env"`
	KnowledgePath     string `json:"knowledge_path"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	BidRetryAttempts  int    `json:"bid_retry_attempts"`
	BidRetryBackoffMS int    `json:"bid_retry_backoff_ms"`
}

// LedgerConfig 选择账本驱动与目标网络。
type LedgerConfig struct {
	Driver           string `json:"driver"`
	Network          string `json:"network"`
	NetworksPath     string `json:"networks_path"`
	RPCURL           string `json:"rpc_url"`
	WSURL            string `json:"ws_url"`
	OrderBookAddress string `json:"order_book_address"`
}

// EventsConfig 选择事件队列驱动。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// AdvisoryConfig 选择外部竞价咨询服务。
type AdvisoryConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// HistoryConfig 选择任务历史的存储后端。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ObjectStoreConfig 选择对象存储后端。
type ObjectStoreConfig struct {
	Driver    string `json:"driver"`
	BaseURL   string `json:"base_url"`
	APIKeyEnv string `json:"api_key_env"`
}

// VoiceConfig 描述中标语音播报的外呼参数。
type VoiceConfig struct {
	APIKeyEnv   string `json:"api_key_env"`
	BaseURL     string `json:"base_url"`
	VoiceAgent  string `json:"voice_agent"`
	PhoneNumber string `json:"phone_number"`
}

// A2AConfig 控制协议服务的监听与安全参数。
type A2AConfig struct {
	Address                string   `json:"address"`
	FreshnessWindowSeconds int      `json:"freshness_window_seconds"`
	AllowedSigners         []string `json:"allowed_signers"`
	WebhookSecretEnv       string   `json:"webhook_secret_env"`
}

// MetricsConfig 控制指标服务的监听地址。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggerConfig 控制日志级别、格式与审计输出。
type LoggerConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// AlertingConfig 控制告警渠道的启用开关。
type AlertingConfig struct {
	Email    EmailAlertConfig `json:"email"`
	DingTalk WebhookAlert     `json:"dingtalk"`
	Slack    SlackAlertConfig `json:"slack"`
}

// EmailAlertConfig 描述邮件告警的 SMTP 连接与收件人。
type EmailAlertConfig struct {
	Enabled       bool     `json:"enabled"`
	SMTPHost      string   `json:"smtp_host"`
	SMTPPort      int      `json:"smtp_port"`
	Username      string   `json:"username"`
	PasswordEnv   string   `json:"password_env"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// WebhookAlert 描述基于 webhook 的告警渠道。
type WebhookAlert struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// SlackAlertConfig 描述 Slack 告警渠道。
type SlackAlertConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url"`
	ChannelID string `json:"channel_id"`
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
	if c.Agent.Capability == "" {
		c.Agent.Capability = "scraper"
	}
	if c.Agent.PrivateKeyEnv == "" {
		c.Agent.PrivateKeyEnv = "ARCHIVE_AGENT_KEY"
	}
	// MaxConcurrentJobs 为 0 时沿用能力自身的默认上限。
	if c.Agent.BidRetryAttempts <= 0 {
		c.Agent.BidRetryAttempts = 3
	}
	if c.Agent.BidRetryBackoffMS <= 0 {
		c.Agent.BidRetryBackoffMS = 500
	}
	if c.Agent.KnowledgePath != "" && !filepath.IsAbs(c.Agent.KnowledgePath) {
		c.Agent.KnowledgePath = filepath.Join(baseDir, c.Agent.KnowledgePath)
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.NetworksPath != "" && !filepath.IsAbs(c.Ledger.NetworksPath) {
		c.Ledger.NetworksPath = filepath.Join(baseDir, c.Ledger.NetworksPath)
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.Redis.Address == "" {
		c.Events.Redis.Address = "127.0.0.1:6379"
	}

	if c.Advisory.Provider == "" {
		c.Advisory.Provider = "none"
	}
	if c.Advisory.OpenAI.APIKeyEnv == "" {
		c.Advisory.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Advisory.OpenAI.TimeoutSeconds <= 0 {
		c.Advisory.OpenAI.TimeoutSeconds = 60
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}

	if c.ObjectStore.Driver == "" {
		c.ObjectStore.Driver = "memory"
	}
	if c.ObjectStore.APIKeyEnv == "" {
		c.ObjectStore.APIKeyEnv = "ARCHIVE_GATEWAY_KEY"
	}

	if c.Voice.APIKeyEnv == "" {
		c.Voice.APIKeyEnv = "ELEVENLABS_API_KEY"
	}

	if c.A2A.Address == "" {
		c.A2A.Address = ":8080"
	}
	if c.A2A.FreshnessWindowSeconds <= 0 {
		c.A2A.FreshnessWindowSeconds = 300
	}
	if c.A2A.WebhookSecretEnv == "" {
		c.A2A.WebhookSecretEnv = "ARCHIVE_WEBHOOK_SECRET"
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9100"
	}

	if c.Alerting.Email.SMTPPort <= 0 {
		c.Alerting.Email.SMTPPort = 587
	}
	if c.Alerting.Email.PasswordEnv == "" {
		c.Alerting.Email.PasswordEnv = "ARCHIVE_SMTP_PASSWORD"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = []string{"stdout"}
	}
	if c.Logger.AuditEnabled && c.Logger.AuditPath == "" {
		c.Logger.AuditPath = filepath.Join(baseDir, "audit.log")
	}
}

// FreshnessWindow 返回签名消息的时效窗口。
func (c A2AConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowSeconds) * time.Second
}

// BidRetryBackoff 返回出价重试的基础退避间隔。
func (c AgentConfig) BidRetryBackoff() time.Duration {
	return time.Duration(c.BidRetryBackoffMS) * time.Millisecond
}

// AdvisoryTimeout 返回咨询调用的超时时间。
func (c OpenAIConfig) AdvisoryTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
