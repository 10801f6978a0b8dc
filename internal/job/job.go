package job

import (
	"context"

	xerrors "Archive-Agents/internal/errors"
	"Archive-Agents/internal/ledger"
)

// Status 表示活跃任务的生命周期状态。
type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ActiveJob 是代理中标后跟踪的任务记录，只由 Manager 修改。
type ActiveJob struct {
	JobID       uint64         `json:"job_id"`
	BidID       uint64         `json:"bid_id"`
	JobType     ledger.JobType `json:"job_type"`
	Description string         `json:"description"`
	Budget      uint64         `json:"budget"`
	Amount      uint64         `json:"amount"`
	Deadline    int64          `json:"deadline"`
	Status      Status         `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
	AcceptedAt  int64          `json:"accepted_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Executor 执行一个已中标的任务，返回 nil 视为成功。
type Executor func(ctx context.Context, job ActiveJob) error

// 管理器的预定义错误。
var (
	ErrJobNotFound      = xerrors.New(xerrors.CodeNotFound, "任务不存在")
	ErrJobConflict      = xerrors.New(xerrors.CodeConflict, "任务状态冲突")
	ErrCapacityExceeded = xerrors.New(xerrors.CodeCapacityExceeded, "并发任务已达上限", xerrors.WithAlert(true))
)
