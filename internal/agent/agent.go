// Package agent 将事件源、决策引擎、生命周期管理与协议层组装为完整的工作代理。
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Archive-Agents/internal/a2a"
	"Archive-Agents/internal/bidding"
	xerrors "Archive-Agents/internal/errors"
	"Archive-Agents/internal/events"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/objectstore"
	"Archive-Agents/internal/observability/alerting"
	"Archive-Agents/internal/observability/metrics"
	"Archive-Agents/internal/voice"
	"Archive-Agents/internal/wallet"
	"Archive-Agents/pkg/logger"
)

// 出价重试的默认参数。
const (
	defaultBidAttempts = 3
	defaultBidBackoff  = 500 * time.Millisecond
)

// Agent 是代理编排器，消费链上事件并驱动竞价与任务执行。
type Agent struct {
	capability Capability
	wallet     *wallet.Wallet
	ledger     ledger.Client
	engine     *bidding.Engine
	adjuster   *bidding.Adjuster
	manager    *job.Manager
	store      objectstore.Store
	voice      *voice.Notifier
	alerts     alerting.Dispatcher

	bidAttempts int
	bidBackoff  time.Duration

	bidsPlaced    atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64
	startedAt     time.Time

	wg sync.WaitGroup
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithAdvisor 配置外部咨询服务，未配置时只走启发式路径。
func WithAdvisor(advisor bidding.Advisor) Option {
	return func(a *Agent) {
		a.engine = bidding.NewEngine(a.capability.Profile(), advisor, a.capability.BiddingPrompt)
	}
}

// WithObjectStore 配置竞标元数据与交付物的对象存储。
func WithObjectStore(store objectstore.Store) Option {
	return func(a *Agent) { a.store = store }
}

// WithVoiceNotifier 配置中标语音播报。
func WithVoiceNotifier(notifier *voice.Notifier) Option {
	return func(a *Agent) { a.voice = notifier }
}

// WithAlerts 配置告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) { a.alerts = dispatcher }
}

// WithBidRetry 覆盖出价重试参数。
func WithBidRetry(attempts int, backoff time.Duration) Option {
	return func(a *Agent) {
		if attempts > 0 {
			a.bidAttempts = attempts
		}
		if backoff > 0 {
			a.bidBackoff = backoff
		}
	}
}

// New 创建代理编排器。
func New(capability Capability, w *wallet.Wallet, led ledger.Client, manager *job.Manager, opts ...Option) *Agent {
	a := &Agent{
		capability:  capability,
		wallet:      w,
		ledger:      led,
		manager:     manager,
		engine:      bidding.NewEngine(capability.Profile(), nil, capability.BiddingPrompt),
		bidAttempts: defaultBidAttempts,
		bidBackoff:  defaultBidBackoff,
		startedAt:   time.Now(),
	}
	a.adjuster = bidding.NewAdjuster(led, w.Address(), capability.Profile())
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// EventHandlers 返回可挂接到事件分发器的回调。
func (a *Agent) EventHandlers() events.Handlers {
	return events.Handlers{
		OnJobPosted: func(ctx context.Context, envelope events.Envelope) {
			a.handleJobPosted(ctx, *envelope.JobPosted)
		},
		OnBidAccepted: func(ctx context.Context, envelope events.Envelope) {
			a.handleBidAccepted(ctx, *envelope.BidAccepted)
		},
	}
}

// handleJobPosted 为每个新任务启动独立的竞价评估。
func (a *Agent) handleJobPosted(ctx context.Context, posted ledger.JobPosted) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.evaluateAndBid(ctx, posted)
	}()
}

func (a *Agent) evaluateAndBid(ctx context.Context, posted ledger.JobPosted) {
	decision := a.engine.Evaluate(ctx, posted, a.manager.Count())
	if !decision.ShouldBid {
		logger.L().Debug("放弃出价", "job_id", posted.JobID, "reason", decision.Reasoning)
		return
	}

	decision = a.adjuster.Apply(ctx, posted.JobID, decision)

	metadataURI := a.uploadBidMetadata(ctx, posted.JobID, decision)
	bidID, err := a.placeBidWithRetry(ctx, posted.JobID, decision, metadataURI)
	if err != nil {
		logger.L().Error("出价最终失败", "job_id", posted.JobID, "error", err)
		a.alert(ctx, posted.JobID, xerrors.CodeLedgerFailure, fmt.Sprintf("出价失败: %v", err))
		return
	}

	a.bidsPlaced.Add(1)
	metrics.IncCounter("bids_placed_total")
	logger.Audit().Info("已提交竞标",
		"job_id", posted.JobID,
		"bid_id", bidID,
		"amount", decision.ProposedAmount,
		"eta_seconds", decision.EstimatedTime,
		"confidence", decision.Confidence,
	)
}

// placeBidWithRetry 带指数退避地重试出价。
func (a *Agent) placeBidWithRetry(ctx context.Context, jobID uint64, decision bidding.Decision, metadataURI string) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt < a.bidAttempts; attempt++ {
		if attempt > 0 {
			backoff := a.bidBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
		bidID, err := a.ledger.PlaceBid(ctx, jobID, decision.ProposedAmount, decision.EstimatedTime, metadataURI)
		if err == nil {
			return bidID, nil
		}
		lastErr = err
		logger.L().Warn("出价失败，准备重试", "job_id", jobID, "attempt", attempt+1, "error", err)
	}
	return 0, lastErr
}

func (a *Agent) uploadBidMetadata(ctx context.Context, jobID uint64, decision bidding.Decision) string {
	if a.store == nil {
		return ""
	}
	payload, err := json.Marshal(map[string]any{
		"job_id":     jobID,
		"agent":      a.capability.Type(),
		"worker":     a.wallet.Address(),
		"reasoning":  decision.Reasoning,
		"confidence": decision.Confidence,
	})
	if err != nil {
		return ""
	}
	uri, err := a.store.Put(ctx, payload, "application/json")
	if err != nil {
		// 元数据归档失败不阻塞出价。
		logger.L().Warn("上传竞标元数据失败", "job_id", jobID, "error", err)
		return ""
	}
	return uri
}

// handleBidAccepted 处理中标事件：登记任务并启动执行。
func (a *Agent) handleBidAccepted(ctx context.Context, accepted ledger.BidAccepted) {
	// 他人中标的事件不是错误，直接忽略。
	if !ledger.SameAddress(accepted.Worker, a.wallet.Address()) {
		return
	}

	active := job.ActiveJob{
		JobID:  accepted.JobID,
		BidID:  accepted.BidID,
		Amount: accepted.Amount,
	}
	if state, err := a.ledger.GetJob(ctx, accepted.JobID); err == nil {
		active.JobType = state.JobType
		active.Description = state.Description
		active.Budget = state.Budget
		active.Deadline = state.Deadline
	} else {
		logger.L().Warn("查询任务详情失败，使用事件字段继续", "job_id", accepted.JobID, "error", err)
	}

	if err := a.manager.Track(active); err != nil {
		switch {
		case errors.Is(err, job.ErrJobConflict):
			// 重复投递是无操作。
			logger.L().Info("忽略重复的中标事件", "job_id", accepted.JobID, "bid_id", accepted.BidID)
		case errors.Is(err, job.ErrCapacityExceeded):
			// 链上已记录中标，这里丢弃会造成容量记账缺口，必须告警。
			logger.L().Warn("中标时容量已满，事件被丢弃", "job_id", accepted.JobID, "tx_hash", accepted.TxHash)
			a.alert(ctx, accepted.JobID, xerrors.CodeCapacityExceeded, "中标事件因容量已满被丢弃")
		default:
			logger.L().Error("登记中标任务失败", "job_id", accepted.JobID, "error", err)
		}
		return
	}

	metrics.IncCounter("jobs_won_total")
	metrics.SetGauge("jobs_active", float64(a.manager.Count()))
	logger.Audit().Info("中标", "job_id", accepted.JobID, "bid_id", accepted.BidID, "amount", accepted.Amount, "tx_hash", accepted.TxHash)

	if a.voice != nil && a.voice.Configured() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.voice.NotifyAcceptance(ctx, accepted.JobID, active.Description); err != nil {
				logger.L().Warn("中标语音播报失败", "job_id", accepted.JobID, "error", err)
			}
		}()
	}

	if err := a.manager.Run(ctx, accepted.JobID, a.execute); err != nil {
		logger.L().Error("启动任务执行失败", "job_id", accepted.JobID, "error", err)
	}
}

func (a *Agent) execute(ctx context.Context, active job.ActiveJob) error {
	err := a.capability.Execute(ctx, active)
	if err != nil {
		a.jobsFailed.Add(1)
		metrics.IncCounter("jobs_failed_total")
	} else {
		a.jobsCompleted.Add(1)
		metrics.IncCounter("jobs_completed_total")
	}
	metrics.SetGauge("jobs_active", float64(a.manager.Count()))
	return err
}

func (a *Agent) alert(ctx context.Context, jobID uint64, code xerrors.Code, message string) {
	if a.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.SeverityOf(xerrors.New(code, message)),
		JobID:      jobID,
		AgentType:  a.capability.Type(),
		OccurredAt: time.Now(),
	}
	if err := a.alerts.Notify(ctx, event); err != nil {
		logger.L().Warn("发送告警失败", "job_id", jobID, "error", err)
	}
}

// StatusReport 是对外暴露的状态快照。
type StatusReport struct {
	AgentType     string          `json:"agent_type"`
	Address       string          `json:"address"`
	ActiveJobs    int             `json:"active_jobs"`
	MaxConcurrent int             `json:"max_concurrent_jobs"`
	BidsPlaced    uint64          `json:"bids_placed"`
	JobsCompleted uint64          `json:"jobs_completed"`
	JobsFailed    uint64          `json:"jobs_failed"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Jobs          []job.ActiveJob `json:"jobs"`
}

// Type 实现 a2a.Agent。
func (a *Agent) Type() string { return a.capability.Type() }

// Capabilities 实现 a2a.Agent。
func (a *Agent) Capabilities() a2a.CapabilitySummary {
	profile := a.engine.Profile()
	jobTypes := make([]string, 0, len(profile.SupportedJobTypes))
	for _, jobType := range profile.SupportedJobTypes {
		jobTypes = append(jobTypes, jobType.Label())
	}
	return a2a.CapabilitySummary{
		AgentType:         a.capability.Type(),
		Capabilities:      []string{"bid", "execute", "status"},
		SupportedJobTypes: jobTypes,
	}
}

// Status 实现 a2a.Agent，返回完整状态快照。
func (a *Agent) Status(context.Context) (any, error) {
	return StatusReport{
		AgentType:     a.capability.Type(),
		Address:       a.wallet.Address(),
		ActiveJobs:    a.manager.Count(),
		MaxConcurrent: a.manager.MaxConcurrent(),
		BidsPlaced:    a.bidsPlaced.Load(),
		JobsCompleted: a.jobsCompleted.Load(),
		JobsFailed:    a.jobsFailed.Load(),
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Jobs:          a.manager.Snapshot(),
	}, nil
}

// ActiveJobs 实现 a2a.Agent。
func (a *Agent) ActiveJobs() []job.ActiveJob {
	return a.manager.Snapshot()
}

// AcceptTask 实现 a2a.Agent。EXECUTE_TASK 只是预告，
// 实际执行由 BidAccepted 事件路径驱动。
func (a *Agent) AcceptTask(_ context.Context, params a2a.ExecuteTaskParams) error {
	logger.L().Info("收到任务预告", "job_id", params.JobID, "description", params.Description)
	return nil
}

// HandleCallResult 实现 a2a.Agent，将通话结果路由给电话核验能力。
func (a *Agent) HandleCallResult(_ context.Context, result a2a.CallResult) error {
	caller, ok := a.capability.(*CallerCapability)
	if !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "当前代理不处理通话回调")
	}
	if !caller.DeliverCallResult(result) {
		logger.L().Warn("通话回调没有匹配的等待任务", "job_id", result.JobID, "call_id", result.CallID)
	}
	return nil
}

// Shutdown 等待在途的竞价与执行任务结束。
func (a *Agent) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.manager.Shutdown(ctx)
}

var _ a2a.Agent = (*Agent)(nil)
