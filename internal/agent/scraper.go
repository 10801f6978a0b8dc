package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Archive-Agents/internal/bidding"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/knowledge"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/objectstore"
	"Archive-Agents/pkg/logger"
)

// ScraperCapability 面向社媒抓取类任务：接单后抓取目标内容并归档交付物。
type ScraperCapability struct {
	profile   bidding.Profile
	store     objectstore.Store
	knowledge knowledge.Provider
	scrape    func(ctx context.Context, description string) ([]byte, error)
}

// ScraperOption 配置抓取能力。
type ScraperOption func(*ScraperCapability)

// WithScrapeFunc 覆盖默认抓取实现，供测试注入。
func WithScrapeFunc(fn func(ctx context.Context, description string) ([]byte, error)) ScraperOption {
	return func(c *ScraperCapability) { c.scrape = fn }
}

// WithScraperKnowledge 注入定价与平台经验提示。
func WithScraperKnowledge(provider knowledge.Provider) ScraperOption {
	return func(c *ScraperCapability) { c.knowledge = provider }
}

// WithScraperConcurrency 覆盖并发任务上限。
// 出价前的容量预检与生命周期管理器必须使用同一个上限。
func WithScraperConcurrency(limit int) ScraperOption {
	return func(c *ScraperCapability) {
		if limit > 0 {
			c.profile.MaxConcurrentJobs = limit
		}
	}
}

// NewScraperCapability 创建抓取能力。
func NewScraperCapability(store objectstore.Store, opts ...ScraperOption) *ScraperCapability {
	c := &ScraperCapability{
		profile: bidding.Profile{
			AgentType: "tiktok-scraper",
			SupportedJobTypes: []ledger.JobType{
				ledger.JobTypeTikTokScrape,
				ledger.JobTypeWebScrape,
			},
			MaxConcurrentJobs: 5,
			Aggressiveness:    0.7,
		},
		store: store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type 返回代理类型。
func (c *ScraperCapability) Type() string { return c.profile.AgentType }

// Profile 返回竞价配置。
func (c *ScraperCapability) Profile() bidding.Profile { return c.profile }

// BiddingPrompt 生成带历史经验的咨询提示词。
func (c *ScraperCapability) BiddingPrompt(posted ledger.JobPosted) string {
	var builder strings.Builder
	builder.WriteString("You are a social media scraping agent evaluating a marketplace job.\n")
	builder.WriteString(fmt.Sprintf("Job type: %s\nBudget (minor units): %d\nDeadline: %d\nDescription: %s\n",
		posted.JobType.Label(), posted.Budget, posted.Deadline, posted.Description))

	if c.knowledge != nil {
		if snippets := c.knowledge.Query(posted.Description, posted.JobType.Label()); len(snippets) > 0 {
			builder.WriteString("\nPricing notes from past jobs:\n")
			for idx, snippet := range snippets {
				builder.WriteString(fmt.Sprintf("[%d] %s: %s\n", idx+1, snippet.Title, snippet.Content))
			}
		}
	}

	builder.WriteString("\nDecide whether to bid. Reply with JSON " +
		"{\"should_bid\": bool, \"amount\": int, \"eta_seconds\": int, \"reasoning\": string}.")
	return builder.String()
}

// Execute 抓取目标内容并将结果写入对象存储。
func (c *ScraperCapability) Execute(ctx context.Context, active job.ActiveJob) error {
	scrape := c.scrape
	if scrape == nil {
		scrape = c.defaultScrape
	}

	data, err := scrape(ctx, active.Description)
	if err != nil {
		return fmt.Errorf("抓取任务 %d 失败: %w", active.JobID, err)
	}

	if c.store != nil {
		deliverable, err := json.Marshal(map[string]any{
			"job_id":     active.JobID,
			"job_type":   active.JobType.Label(),
			"scraped_at": time.Now().Unix(),
			"payload":    string(data),
		})
		if err != nil {
			return fmt.Errorf("编码交付物失败: %w", err)
		}
		uri, err := c.store.Put(ctx, deliverable, "application/json")
		if err != nil {
			return fmt.Errorf("归档交付物失败: %w", err)
		}
		logger.L().Info("抓取交付物已归档", "job_id", active.JobID, "uri", uri)
	}
	return nil
}

// defaultScrape 是保底实现，只在未注入抓取函数时使用。
func (c *ScraperCapability) defaultScrape(ctx context.Context, description string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return []byte(fmt.Sprintf("scrape summary for: %s", description)), nil
}

var _ Capability = (*ScraperCapability)(nil)
