package agent

import (
	"context"

	"Archive-Agents/internal/bidding"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/ledger"
)

// Capability 定义一类代理的差异化行为：竞价性格、提示词与任务执行。
// 具体实现由构造时选择，而不是运行时切换。
type Capability interface {
	// Type 返回代理类型标识，例如 tiktok-scraper。
	Type() string
	// Profile 返回该能力的竞价配置。
	Profile() bidding.Profile
	// BiddingPrompt 为任务生成咨询提示词。
	BiddingPrompt(job ledger.JobPosted) string
	// Execute 执行一个已中标的任务，返回 nil 视为成功。
	Execute(ctx context.Context, active job.ActiveJob) error
}
