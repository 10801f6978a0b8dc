package bidding

import (
	"context"
	"errors"
	"testing"

	"Archive-Agents/internal/ledger"
)

type stubAdvisor struct {
	reply string
	err   error
	calls int
}

func (s *stubAdvisor) Advise(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func scraperProfile() Profile {
	return Profile{
		AgentType:         "tiktok-scraper",
		SupportedJobTypes: []ledger.JobType{ledger.JobTypeTikTokScrape},
		MaxConcurrentJobs: 3,
	}
}

func TestHeuristicRejectsBelowBudgetFloor(t *testing.T) {
	engine := NewEngine(scraperProfile(), nil, nil)
	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   1,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  999_999,
	}, 0)
	if decision.ShouldBid {
		t.Fatalf("低于预算下限不应出价: %+v", decision)
	}
}

func TestHeuristicBidAtExactFloor(t *testing.T) {
	engine := NewEngine(scraperProfile(), nil, nil)
	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   7,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  1_000_000,
	}, 0)
	if !decision.ShouldBid {
		t.Fatalf("预算等于下限应当出价: %+v", decision)
	}
	if decision.ProposedAmount != 800_000 {
		t.Fatalf("期望出价 800000, 实际 %d", decision.ProposedAmount)
	}
	if decision.Confidence != 0.5 {
		t.Fatalf("启发式置信度应为 0.5, 实际 %f", decision.Confidence)
	}
	if decision.EstimatedTime != DefaultETASeconds {
		t.Fatalf("期望默认 ETA %d, 实际 %d", DefaultETASeconds, decision.EstimatedTime)
	}
}

func TestUnsupportedJobTypeSkipsAdvisory(t *testing.T) {
	advisor := &stubAdvisor{reply: "you should bid"}
	engine := NewEngine(Profile{
		AgentType:         "caller",
		SupportedJobTypes: []ledger.JobType{ledger.JobTypeCallVerification},
		MaxConcurrentJobs: 3,
	}, advisor, nil)

	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   42,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  5_000_000,
	}, 0)
	if decision.ShouldBid {
		t.Fatalf("类型不匹配不应出价: %+v", decision)
	}
	if advisor.calls != 0 {
		t.Fatalf("类型不匹配时不应调用咨询服务, 实际调用 %d 次", advisor.calls)
	}
}

func TestCapacityFullSkipsAdvisory(t *testing.T) {
	advisor := &stubAdvisor{reply: "you should bid"}
	engine := NewEngine(scraperProfile(), advisor, nil)

	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   8,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  5_000_000,
	}, 3)
	if decision.ShouldBid {
		t.Fatalf("容量已满不应出价: %+v", decision)
	}
	if advisor.calls != 0 {
		t.Fatal("容量已满时不应调用咨询服务")
	}
}

func TestAdvisoryFailureFailsClosed(t *testing.T) {
	advisor := &stubAdvisor{err: errors.New("rate limited")}
	engine := NewEngine(scraperProfile(), advisor, nil)

	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   9,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  5_000_000,
	}, 0)
	if decision.ShouldBid {
		t.Fatalf("咨询失败必须视为不出价: %+v", decision)
	}
}

func TestAdvisoryStructuredReplyWins(t *testing.T) {
	advisor := &stubAdvisor{reply: `I looked at the job. {"should_bid": true, "amount": 3500000, "eta_seconds": 7200, "reasoning": "profitable"}`}
	engine := NewEngine(scraperProfile(), advisor, nil)

	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   10,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  5_000_000,
	}, 0)
	if !decision.ShouldBid || decision.ProposedAmount != 3_500_000 || decision.EstimatedTime != 7200 {
		t.Fatalf("结构化建议解析不符: %+v", decision)
	}
}

func TestAdvisoryFreeTextFallback(t *testing.T) {
	advisor := &stubAdvisor{reply: "Given the budget I recommend bidding 4 USDC and it should take about 2 hours."}
	engine := NewEngine(scraperProfile(), advisor, nil)

	decision := engine.Evaluate(context.Background(), ledger.JobPosted{
		JobID:   11,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  5_000_000,
	}, 0)
	if !decision.ShouldBid {
		t.Fatalf("含同意短语的文本应判定出价: %+v", decision)
	}
	if decision.ProposedAmount != 4_000_000 {
		t.Fatalf("期望金额 4000000, 实际 %d", decision.ProposedAmount)
	}
	if decision.EstimatedTime != 7200 {
		t.Fatalf("期望 ETA 7200, 实际 %d", decision.EstimatedTime)
	}
	if decision.Confidence != 0.7 {
		t.Fatalf("正向文本置信度应为 0.7, 实际 %f", decision.Confidence)
	}
}
