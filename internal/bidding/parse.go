package bidding

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// agreementPhrases 中任意短语出现即视为同意出价。
var agreementPhrases = []string{
	"should bid",
	"recommend bidding",
	"will bid",
	"place a bid",
	"yes, bid",
	"accept this job",
	"take this job",
}

var (
	amountPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:usdc|\$|dollars?)`)
	hoursPattern  = regexp.MustCompile(`(?i)(\d+)\s*(?:hour|hr)`)
)

// 金额以 USDC 最小单位计，1 USDC = 1e6。
const usdcMinorUnits = 1_000_000

// advisoryVerdict 是要求咨询服务返回的结构化结果。
type advisoryVerdict struct {
	ShouldBid  *bool    `json:"should_bid"`
	Amount     uint64   `json:"amount"`
	ETASeconds uint64   `json:"eta_seconds"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
}

// ParseAdvisoryJSON 尝试从咨询文本中提取结构化决策。
// 返回 false 表示文本不含合法的结构化结果，调用方应回退到文本解析。
func ParseAdvisoryJSON(text string) (Decision, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Decision{}, false
	}

	var verdict advisoryVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil || verdict.ShouldBid == nil {
		return Decision{}, false
	}

	decision := Decision{
		ShouldBid:      *verdict.ShouldBid,
		ProposedAmount: verdict.Amount,
		EstimatedTime:  verdict.ETASeconds,
		Reasoning:      verdict.Reasoning,
	}
	if decision.EstimatedTime == 0 {
		decision.EstimatedTime = DefaultETASeconds
	}
	if verdict.Confidence != nil {
		decision.Confidence = *verdict.Confidence
	} else if decision.ShouldBid {
		decision.Confidence = 0.7
	} else {
		decision.Confidence = 0.3
	}
	if !decision.ShouldBid {
		decision.ProposedAmount = 0
	}
	return decision, true
}

// ParseAdvisoryText 从自由文本建议中尽力提取决策。
// 这是近似的信号提取，不保证解析正确，仅作为结构化路径的回退。
func ParseAdvisoryText(text string, budget uint64) Decision {
	lowered := strings.ToLower(text)

	positive := false
	for _, phrase := range agreementPhrases {
		if strings.Contains(lowered, phrase) {
			positive = true
			break
		}
	}

	amount := budget
	if match := amountPattern.FindStringSubmatch(text); match != nil {
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			amount = uint64(value * usdcMinorUnits)
		}
	}

	eta := DefaultETASeconds
	if match := hoursPattern.FindStringSubmatch(text); match != nil {
		if hours, err := strconv.ParseUint(match[1], 10, 64); err == nil {
			eta = hours * 3600
		}
	}

	decision := Decision{
		ShouldBid:     positive,
		EstimatedTime: eta,
		Reasoning:     truncate(text, 200),
	}
	if positive {
		decision.ProposedAmount = amount
		decision.Confidence = 0.7
	} else {
		decision.Confidence = 0.3
	}
	return decision
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
