package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"Archive-Agents/internal/a2a"
	"Archive-Agents/internal/bidding"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/voice"
	"Archive-Agents/pkg/logger"
)

// DefaultCallTimeout 是等待电话核验结果回调的上限。
const DefaultCallTimeout = 10 * time.Minute

// CallerCapability 面向电话核验任务：外呼目标号码并等待结果回调。
type CallerCapability struct {
	profile     bidding.Profile
	notifier    *voice.Notifier
	callTimeout time.Duration

	mu      sync.Mutex
	pending map[uint64]chan a2a.CallResult
}

// CallerOption 配置电话核验能力。
type CallerOption func(*CallerCapability)

// WithCallTimeout 覆盖等待回调的超时时间。
func WithCallTimeout(timeout time.Duration) CallerOption {
	return func(c *CallerCapability) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithCallerConcurrency 覆盖并发任务上限。
// 出价前的容量预检与生命周期管理器必须使用同一个上限。
func WithCallerConcurrency(limit int) CallerOption {
	return func(c *CallerCapability) {
		if limit > 0 {
			c.profile.MaxConcurrentJobs = limit
		}
	}
}

// NewCallerCapability 创建电话核验能力。
func NewCallerCapability(notifier *voice.Notifier, opts ...CallerOption) *CallerCapability {
	c := &CallerCapability{
		profile: bidding.Profile{
			AgentType:         "call-verifier",
			SupportedJobTypes: []ledger.JobType{ledger.JobTypeCallVerification},
			MaxConcurrentJobs: 2,
			Aggressiveness:    0.8,
		},
		notifier:    notifier,
		callTimeout: DefaultCallTimeout,
		pending:     make(map[uint64]chan a2a.CallResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type 返回代理类型。
func (c *CallerCapability) Type() string { return c.profile.AgentType }

// Profile 返回竞价配置。
func (c *CallerCapability) Profile() bidding.Profile { return c.profile }

// BiddingPrompt 生成电话核验的咨询提示词。
func (c *CallerCapability) BiddingPrompt(posted ledger.JobPosted) string {
	var builder strings.Builder
	builder.WriteString("You are a phone verification agent evaluating a marketplace job.\n")
	builder.WriteString(fmt.Sprintf("Budget (minor units): %d\nDeadline: %d\nDescription: %s\n",
		posted.Budget, posted.Deadline, posted.Description))
	builder.WriteString("Calls are expensive, bid only on jobs with clear phone verification intent.\n")
	builder.WriteString("Reply with JSON {\"should_bid\": bool, \"amount\": int, \"eta_seconds\": int, \"reasoning\": string}.")
	return builder.String()
}

// Execute 发起外呼并阻塞等待 webhook 回调的核验结果。
func (c *CallerCapability) Execute(ctx context.Context, active job.ActiveJob) error {
	if c.notifier == nil || !c.notifier.Configured() {
		return fmt.Errorf("任务 %d 需要语音服务, 但语音通知未配置", active.JobID)
	}

	resultCh := c.register(active.JobID)
	defer c.unregister(active.JobID)

	if err := c.notifier.NotifyAcceptance(ctx, active.JobID, active.Description); err != nil {
		return fmt.Errorf("发起核验外呼失败: %w", err)
	}
	logger.L().Info("核验外呼已发起，等待回调", "job_id", active.JobID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.callTimeout):
		return fmt.Errorf("任务 %d 等待通话结果超时", active.JobID)
	case result := <-resultCh:
		if !result.Success {
			return fmt.Errorf("任务 %d 核验未通过: %s", active.JobID, result.Transcript)
		}
		return nil
	}
}

// DeliverCallResult 将 webhook 回调路由给等待中的执行协程。
func (c *CallerCapability) DeliverCallResult(result a2a.CallResult) bool {
	c.mu.Lock()
	ch, ok := c.pending[result.JobID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- result:
		return true
	default:
		return false
	}
}

func (c *CallerCapability) register(jobID uint64) chan a2a.CallResult {
	ch := make(chan a2a.CallResult, 1)
	c.mu.Lock()
	c.pending[jobID] = ch
	c.mu.Unlock()
	return ch
}

func (c *CallerCapability) unregister(jobID uint64) {
	c.mu.Lock()
	delete(c.pending, jobID)
	c.mu.Unlock()
}

var _ Capability = (*CallerCapability)(nil)
