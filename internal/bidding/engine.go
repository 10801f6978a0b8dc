package bidding

import (
	"context"
	"fmt"

	"Archive-Agents/internal/ledger"
	"Archive-Agents/pkg/logger"
)

// Decision 是针对单个任务的一次性竞价决策，评估后即用即弃。
type Decision struct {
	ShouldBid      bool    `json:"should_bid"`
	ProposedAmount uint64  `json:"proposed_amount"`
	EstimatedTime  uint64  `json:"estimated_time"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
}

// Advisor 抽象外部推理服务，返回自由文本或结构化建议。
type Advisor interface {
	Advise(ctx context.Context, prompt string) (string, error)
}

// PromptBuilder 为任务生成能力相关的咨询提示词。
type PromptBuilder func(job ledger.JobPosted) string

// Engine 将任务快照与代理状态转化为竞价决策。
type Engine struct {
	profile Profile
	advisor Advisor
	prompt  PromptBuilder
}

// NewEngine 创建决策引擎。advisor 为 nil 时只走启发式路径。
func NewEngine(profile Profile, advisor Advisor, prompt PromptBuilder) *Engine {
	return &Engine{profile: profile.Normalize(), advisor: advisor, prompt: prompt}
}

// Profile 返回归一化后的竞价配置。
func (e *Engine) Profile() Profile {
	return e.profile
}

// Evaluate 对单个任务产出唯一一次决策。
func (e *Engine) Evaluate(ctx context.Context, job ledger.JobPosted, activeJobCount int) Decision {
	// 类型与容量检查在任何外部调用之前短路。
	if !e.profile.Supports(job.JobType) {
		return Decision{Reasoning: fmt.Sprintf("不支持的任务类型: %s", job.JobType.Label())}
	}
	if activeJobCount >= e.profile.MaxConcurrentJobs {
		return Decision{Reasoning: fmt.Sprintf("并发任务已达上限 %d", e.profile.MaxConcurrentJobs)}
	}

	if e.advisor == nil {
		return e.heuristic(job)
	}

	prompt := e.buildPrompt(job)
	text, err := e.advisor.Advise(ctx, prompt)
	if err != nil {
		// 咨询失败一律视为不出价，避免误出价。
		logger.L().Warn("咨询服务调用失败，放弃出价", "job_id", job.JobID, "error", err)
		return Decision{Reasoning: "咨询服务不可用"}
	}

	if decision, ok := ParseAdvisoryJSON(text); ok {
		return decision
	}
	return ParseAdvisoryText(text, job.Budget)
}

// heuristic 是不依赖外部服务的保底路径。
func (e *Engine) heuristic(job ledger.JobPosted) Decision {
	if job.Budget < e.profile.MinAcceptableBudget {
		return Decision{Reasoning: fmt.Sprintf("预算 %d 低于最低可接受值 %d", job.Budget, e.profile.MinAcceptableBudget)}
	}
	amount := uint64(float64(job.Budget) * e.profile.Aggressiveness)
	return Decision{
		ShouldBid:      true,
		ProposedAmount: amount,
		EstimatedTime:  e.profile.DefaultETASeconds,
		Reasoning:      fmt.Sprintf("启发式出价: 预算 %d × %.2f", job.Budget, e.profile.Aggressiveness),
		Confidence:     0.5,
	}
}

func (e *Engine) buildPrompt(job ledger.JobPosted) string {
	if e.prompt != nil {
		return e.prompt(job)
	}
	return fmt.Sprintf(
		"You are a %s worker agent. A job was posted:\nType: %s\nBudget: %d\nDeadline: %d\nDescription: %s\n"+
			"Decide whether to bid. Reply with JSON {\"should_bid\": bool, \"amount\": int, \"eta_seconds\": int, \"reasoning\": string}.",
		e.profile.AgentType, job.JobType.Label(), job.Budget, job.Deadline, job.Description)
}
