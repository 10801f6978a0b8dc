package ledger

import (
	"context"
	"strings"
)

// JobType enumerates the kinds of work the marketplace contract understands.
type JobType uint8

const (
	JobTypeTikTokScrape JobType = iota
	JobTypeWebScrape
	JobTypeCallVerification
	JobTypeDataAnalysis
	JobTypeContentGeneration
)

// jobTypeLabels 提供给日志与提示词使用的可读名称。
var jobTypeLabels = map[JobType]string{
	JobTypeTikTokScrape:      "TIKTOK_SCRAPE",
	JobTypeWebScrape:         "WEB_SCRAPE",
	JobTypeCallVerification:  "CALL_VERIFICATION",
	JobTypeDataAnalysis:      "DATA_ANALYSIS",
	JobTypeContentGeneration: "CONTENT_GENERATION",
}

// Label returns the human readable name of the job type.
func (t JobType) Label() string {
	if label, ok := jobTypeLabels[t]; ok {
		return label
	}
	return "UNKNOWN"
}

// JobPosted is the immutable snapshot of an on-chain JobPosted event.
// Amounts are in USDC minor units (6 decimals), deadlines are unix seconds.
type JobPosted struct {
	JobID       uint64  `json:"job_id"`
	JobType     JobType `json:"job_type"`
	Budget      uint64  `json:"budget"`
	Deadline    int64   `json:"deadline"`
	Description string  `json:"description"`
}

// BidAccepted is the immutable snapshot of an on-chain BidAccepted event.
type BidAccepted struct {
	JobID  uint64 `json:"job_id"`
	BidID  uint64 `json:"bid_id"`
	Worker string `json:"worker"`
	Amount uint64 `json:"amount"`
	TxHash string `json:"tx_hash"`
}

// Bid mirrors a bid record stored by the order book contract.
type Bid struct {
	BidID       uint64 `json:"bid_id"`
	JobID       uint64 `json:"job_id"`
	Bidder      string `json:"bidder"`
	Amount      uint64 `json:"amount"`
	ETASeconds  uint64 `json:"eta_seconds"`
	MetadataURI string `json:"metadata_uri"`
	Accepted    bool   `json:"accepted"`
}

// JobState mirrors the contract-side view of a job.
type JobState struct {
	JobID       uint64   `json:"job_id"`
	Poster      string   `json:"poster"`
	JobType     JobType  `json:"job_type"`
	Budget      uint64   `json:"budget"`
	Deadline    int64    `json:"deadline"`
	Description string   `json:"description"`
	MetadataURI string   `json:"metadata_uri"`
	Tags        []string `json:"tags,omitempty"`
}

// EventHandlers carries the callbacks a subscriber registers for ledger events.
type EventHandlers struct {
	OnJobPosted   func(JobPosted)
	OnBidAccepted func(BidAccepted)
}

// Subscription represents an active ledger event subscription.
type Subscription interface {
	// Err reports a terminal subscription failure.
	Err() <-chan error
	// Close terminates the subscription.
	Close()
}

// Client defines the marketplace contract call surface consumed by the agent
// core. Implementations must be safe for concurrent use.
type Client interface {
	PostJob(ctx context.Context, description, metadataURI string, tags []string, deadline int64) (uint64, error)
	PlaceBid(ctx context.Context, jobID uint64, amount, etaSeconds uint64, metadataURI string) (uint64, error)
	GetBidsForJob(ctx context.Context, jobID uint64) ([]Bid, error)
	AcceptBid(ctx context.Context, jobID, bidID uint64, responseURI string) (string, error)
	GetJob(ctx context.Context, jobID uint64) (JobState, error)
	SubscribeJobEvents(ctx context.Context, handlers EventHandlers) (Subscription, error)
	Close()
}

// SameAddress 以大小写不敏感的方式比较两个链上地址。
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
