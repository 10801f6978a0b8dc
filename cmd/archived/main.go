package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"Archive-Agents/internal/a2a"
	"Archive-Agents/internal/advisory/openai"
	"Archive-Agents/internal/agent"
	"Archive-Agents/internal/bidding"
	"Archive-Agents/internal/config"
	"Archive-Agents/internal/events"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/knowledge"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/ledger/ethereum"
	"Archive-Agents/internal/objectstore"
	"Archive-Agents/internal/observability/alerting"
	"Archive-Agents/internal/observability/metrics"
	"Archive-Agents/internal/voice"
	"Archive-Agents/internal/wallet"
	"Archive-Agents/pkg/logger"
)

// main 是工作代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("archived 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ARCHIVE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "archive.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logger.AuditEnabled,
			Path:    cfg.Logger.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	signer, err := wallet.FromEnv(cfg.Agent.PrivateKeyEnv)
	if err != nil {
		return err
	}
	logger.L().Info("代理身份已加载", "address", signer.Address())

	led, err := createLedger(ctx, cfg, signer)
	if err != nil {
		return err
	}
	defer led.Close()

	store, err := createObjectStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	capability, err := createCapability(cfg, store)
	if err != nil {
		return err
	}

	history, err := createHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = history.Close()
	}()

	// 生命周期管理器与竞价预检共用能力画像里的并发上限。
	manager := job.NewManager(capability.Profile().MaxConcurrentJobs, job.WithHistory(history))

	opts := []agent.Option{
		agent.WithObjectStore(store),
		agent.WithBidRetry(cfg.Agent.BidRetryAttempts, cfg.Agent.BidRetryBackoff()),
	}
	if advisor, err := createAdvisor(cfg); err != nil {
		return err
	} else if advisor != nil {
		opts = append(opts, agent.WithAdvisor(advisor))
	}
	if notifier := createVoiceNotifier(cfg); notifier != nil {
		opts = append(opts, agent.WithVoiceNotifier(notifier))
	}
	if alerts := createAlerts(cfg); alerts != nil {
		opts = append(opts, agent.WithAlerts(alerts))
	}

	ag := agent.New(capability, signer, led, manager, opts...)

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭事件队列失败", "error", err)
		}
	}()

	listener := events.NewListener(led, queue)
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Close()

	dispatcher := events.NewDispatcher(queue, ag.EventHandlers())
	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	defer dispatchCancel()
	go func() {
		if err := dispatcher.Run(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("事件分发器异常退出", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := a2a.NewServer(a2a.ServerConfig{
		Addr:            cfg.A2A.Address,
		FreshnessWindow: cfg.A2A.FreshnessWindow(),
		AllowedSigners:  cfg.A2A.AllowedSigners,
		WebhookSecret:   os.Getenv(cfg.A2A.WebhookSecretEnv),
	}, ag)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return ag.Shutdown(shutdownCtx)
}

func createLedger(ctx context.Context, cfg *config.Config, signer *wallet.Wallet) (ledger.Client, error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		return ledger.NewMemoryLedger(), nil
	case "ethereum":
		ethCfg := ethereum.Config{
			Name:             cfg.Ledger.Network,
			RPCURL:           cfg.Ledger.RPCURL,
			WSURL:            cfg.Ledger.WSURL,
			OrderBookAddress: cfg.Ledger.OrderBookAddress,
		}
		if cfg.Ledger.Network != "" && cfg.Ledger.NetworksPath != "" {
			defs, err := ledger.LoadNetworkDefinitions(cfg.Ledger.NetworksPath)
			if err != nil {
				return nil, err
			}
			def, err := defs.Lookup(cfg.Ledger.Network)
			if err != nil {
				return nil, err
			}
			ethCfg.RPCURL = def.RPCURL
			ethCfg.WSURL = def.WSURL
			ethCfg.OrderBookAddress = def.OrderBookAddress
		}
		return ethereum.NewClient(ctx, ethCfg, signer)
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createQueue(cfg *config.Config) (events.Queue, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryQueue(cfg.Events.Buffer), nil
	case "redis":
		return events.NewRedisQueue(events.RedisQueueConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.Redis.Queue,
		})
	case "rabbitmq":
		return events.NewRabbitMQQueue(events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Queue:    cfg.Events.RabbitMQ.Queue,
			Prefetch: cfg.Events.RabbitMQ.Prefetch,
			Durable:  cfg.Events.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Events.Driver)
	}
}

func createHistory(cfg *config.Config) (job.Store, error) {
	switch cfg.History.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		return job.NewMySQLStore(cfg.History.DSN)
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.History.Driver)
	}
}

func createObjectStore(cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Driver {
	case "", "memory":
		return objectstore.NewMemoryStore(), nil
	case "gateway":
		return objectstore.NewGatewayStore(objectstore.GatewayConfig{
			BaseURL: cfg.ObjectStore.BaseURL,
			APIKey:  strings.TrimSpace(os.Getenv(cfg.ObjectStore.APIKeyEnv)),
		})
	default:
		return nil, fmt.Errorf("未知的对象存储驱动: %s", cfg.ObjectStore.Driver)
	}
}

func createCapability(cfg *config.Config, store objectstore.Store) (agent.Capability, error) {
	switch cfg.Agent.Capability {
	case "", "scraper":
		// 能力画像与生命周期管理器共享同一个并发上限，
		// 避免预检放行而 Track 拒绝的容量记账缺口。
		opts := []agent.ScraperOption{agent.WithScraperConcurrency(cfg.Agent.MaxConcurrentJobs)}
		if cfg.Agent.KnowledgePath != "" {
			provider, err := knowledge.LoadStaticProvider(cfg.Agent.KnowledgePath, 3)
			if err != nil {
				return nil, err
			}
			opts = append(opts, agent.WithScraperKnowledge(provider))
		}
		return agent.NewScraperCapability(store, opts...), nil
	case "caller":
		notifier := createVoiceNotifier(cfg)
		if notifier == nil || !notifier.Configured() {
			return nil, errors.New("caller 能力需要配置语音外呼参数")
		}
		return agent.NewCallerCapability(notifier, agent.WithCallerConcurrency(cfg.Agent.MaxConcurrentJobs)), nil
	default:
		return nil, fmt.Errorf("未知的代理能力: %s", cfg.Agent.Capability)
	}
}

func createAdvisor(cfg *config.Config) (bidding.Advisor, error) {
	switch cfg.Advisory.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		apiKey := strings.TrimSpace(os.Getenv(cfg.Advisory.OpenAI.APIKeyEnv))
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key_env 对应的环境变量")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Advisory.OpenAI.BaseURL,
			Model:   cfg.Advisory.OpenAI.Model,
			Timeout: cfg.Advisory.OpenAI.AdvisoryTimeout(),
		})
	default:
		return nil, fmt.Errorf("未知的咨询 provider: %s", cfg.Advisory.Provider)
	}
}

func createVoiceNotifier(cfg *config.Config) *voice.Notifier {
	apiKey := strings.TrimSpace(os.Getenv(cfg.Voice.APIKeyEnv))
	if apiKey == "" && cfg.Voice.PhoneNumber == "" {
		return nil
	}
	return voice.NewNotifier(voice.Config{
		APIKey:      apiKey,
		BaseURL:     cfg.Voice.BaseURL,
		VoiceAgent:  cfg.Voice.VoiceAgent,
		PhoneNumber: cfg.Voice.PhoneNumber,
	})
}

func createAlerts(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.DingTalk.Enabled {
		sender, err := alerting.NewWebhookDingTalkSender(cfg.Alerting.DingTalk.URL)
		if err != nil {
			logger.L().Warn("钉钉告警渠道配置无效", "error", err)
		} else {
			notifiers = append(notifiers, &alerting.DingTalkNotifier{Sender: sender})
		}
	}
	if cfg.Alerting.Email.Enabled {
		sender, err := alerting.NewSMTPEmailSender(
			cfg.Alerting.Email.SMTPHost,
			cfg.Alerting.Email.SMTPPort,
			cfg.Alerting.Email.Username,
			os.Getenv(cfg.Alerting.Email.PasswordEnv),
			cfg.Alerting.Email.From,
		)
		if err != nil {
			logger.L().Warn("邮件告警渠道配置无效", "error", err)
		} else {
			notifiers = append(notifiers, &alerting.EmailNotifier{
				Sender:        sender,
				To:            cfg.Alerting.Email.To,
				SubjectPrefix: cfg.Alerting.Email.SubjectPrefix,
			})
		}
	}
	if cfg.Alerting.Slack.Enabled {
		sender, err := alerting.NewWebhookSlackSender(cfg.Alerting.Slack.URL)
		if err != nil {
			logger.L().Warn("Slack 告警渠道配置无效", "error", err)
		} else {
			notifiers = append(notifiers, &alerting.SlackNotifier{
				Sender:    sender,
				ChannelID: cfg.Alerting.Slack.ChannelID,
			})
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
