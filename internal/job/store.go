package job

import "context"

// HistoryEntry 是任务进入终态后的归档记录。
type HistoryEntry struct {
	JobID      uint64 `json:"job_id"`
	BidID      uint64 `json:"bid_id"`
	JobType    string `json:"job_type"`
	Amount     uint64 `json:"amount"`
	Status     Status `json:"status"`
	LastError  string `json:"last_error,omitempty"`
	AcceptedAt int64  `json:"accepted_at"`
	FinishedAt int64  `json:"finished_at"`
}

// Store 抽象任务历史的持久化接口。
type Store interface {
	Record(ctx context.Context, entry HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}
