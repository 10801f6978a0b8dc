package events

import (
	"encoding/json"
	"time"

	xerrors "Archive-Agents/internal/errors"
	"Archive-Agents/internal/ledger"

	"github.com/google/uuid"
)

// 事件类型常量。
const (
	KindJobPosted   = "job_posted"
	KindBidAccepted = "bid_accepted"
)

// Envelope 是经过队列传输的链上事件封装。
type Envelope struct {
	ID          string              `json:"id"`
	Kind        string              `json:"kind"`
	OccurredAt  int64               `json:"occurred_at"`
	JobPosted   *ledger.JobPosted   `json:"job_posted,omitempty"`
	BidAccepted *ledger.BidAccepted `json:"bid_accepted,omitempty"`
}

// NewJobPostedEnvelope 包装 JobPosted 事件。
func NewJobPostedEnvelope(event ledger.JobPosted) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       KindJobPosted,
		OccurredAt: time.Now().Unix(),
		JobPosted:  &event,
	}
}

// NewBidAcceptedEnvelope 包装 BidAccepted 事件。
func NewBidAcceptedEnvelope(event ledger.BidAccepted) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Kind:        KindBidAccepted,
		OccurredAt:  time.Now().Unix(),
		BidAccepted: &event,
	}
}

// Encode 将事件封装编码为队列负载。
func (e Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码事件失败")
	}
	return string(raw), nil
}

// DecodeEnvelope 解析队列负载。
func DecodeEnvelope(payload string) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析事件负载失败")
	}
	switch envelope.Kind {
	case KindJobPosted:
		if envelope.JobPosted == nil {
			return Envelope{}, xerrors.New(xerrors.CodeQueueFailure, "job_posted 事件缺少负载")
		}
	case KindBidAccepted:
		if envelope.BidAccepted == nil {
			return Envelope{}, xerrors.New(xerrors.CodeQueueFailure, "bid_accepted 事件缺少负载")
		}
	default:
		return Envelope{}, xerrors.New(xerrors.CodeQueueFailure, "未知的事件类型: "+envelope.Kind)
	}
	return envelope, nil
}
