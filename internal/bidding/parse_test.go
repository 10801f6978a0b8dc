package bidding

import (
	"strings"
	"testing"
)

func TestParseAdvisoryTextNegative(t *testing.T) {
	decision := ParseAdvisoryText("This job is underpaid, skip it.", 2_000_000)
	if decision.ShouldBid {
		t.Fatalf("无同意短语不应出价: %+v", decision)
	}
	if decision.Confidence != 0.3 {
		t.Fatalf("负向置信度应为 0.3, 实际 %f", decision.Confidence)
	}
	if decision.ProposedAmount != 0 {
		t.Fatalf("不出价时金额应为 0, 实际 %d", decision.ProposedAmount)
	}
}

func TestParseAdvisoryTextDefaultsToBudget(t *testing.T) {
	decision := ParseAdvisoryText("Yes, bid on this one.", 2_500_000)
	if !decision.ShouldBid {
		t.Fatalf("应判定出价: %+v", decision)
	}
	if decision.ProposedAmount != 2_500_000 {
		t.Fatalf("缺少金额时应回退到预算, 实际 %d", decision.ProposedAmount)
	}
	if decision.EstimatedTime != 3600 {
		t.Fatalf("缺少时间时默认 3600, 实际 %d", decision.EstimatedTime)
	}
}

func TestParseAdvisoryTextDollarAmount(t *testing.T) {
	decision := ParseAdvisoryText("We should bid. The right price is 2.5 dollars for this.", 9_000_000)
	if decision.ProposedAmount != 2_500_000 {
		t.Fatalf("期望金额 2500000, 实际 %d", decision.ProposedAmount)
	}
}

func TestParseAdvisoryTextTruncatesReasoning(t *testing.T) {
	long := "take this job. " + strings.Repeat("detail ", 100)
	decision := ParseAdvisoryText(long, 1_000_000)
	if got := len([]rune(decision.Reasoning)); got != 200 {
		t.Fatalf("推理内容应截断为 200 字符, 实际 %d", got)
	}
}

func TestParseAdvisoryJSONRequiresShouldBid(t *testing.T) {
	if _, ok := ParseAdvisoryJSON(`{"amount": 100}`); ok {
		t.Fatal("缺少 should_bid 字段不应视为结构化结果")
	}
	if _, ok := ParseAdvisoryJSON("no json here"); ok {
		t.Fatal("无 JSON 的文本不应视为结构化结果")
	}
}

func TestParseAdvisoryJSONNegativeClearsAmount(t *testing.T) {
	decision, ok := ParseAdvisoryJSON(`{"should_bid": false, "amount": 900000, "reasoning": "too risky"}`)
	if !ok {
		t.Fatal("合法结构化结果应被接受")
	}
	if decision.ShouldBid || decision.ProposedAmount != 0 {
		t.Fatalf("拒绝决策应清零金额: %+v", decision)
	}
	if decision.Confidence != 0.3 {
		t.Fatalf("拒绝决策默认置信度 0.3, 实际 %f", decision.Confidence)
	}
}
