package events

import (
	"context"
	"errors"

	"Archive-Agents/internal/ledger"
	"Archive-Agents/pkg/logger"
)

// Listener 将链上事件订阅桥接到消息队列。
type Listener struct {
	ledger   ledger.Client
	producer Producer
	sub      ledger.Subscription
}

// NewListener 创建事件监听器。
func NewListener(led ledger.Client, producer Producer) *Listener {
	return &Listener{ledger: led, producer: producer}
}

// Start 订阅链上事件并开始向队列转发。
func (l *Listener) Start(ctx context.Context) error {
	if l.ledger == nil || l.producer == nil {
		return errors.New("监听器缺少账本或队列")
	}
	sub, err := l.ledger.SubscribeJobEvents(ctx, ledger.EventHandlers{
		OnJobPosted: func(event ledger.JobPosted) {
			l.forward(ctx, NewJobPostedEnvelope(event))
		},
		OnBidAccepted: func(event ledger.BidAccepted) {
			l.forward(ctx, NewBidAcceptedEnvelope(event))
		},
	})
	if err != nil {
		return err
	}
	l.sub = sub

	go func() {
		select {
		case <-ctx.Done():
		case err, ok := <-sub.Err():
			if ok && err != nil {
				logger.L().Error("链上事件订阅中断", "error", err)
			}
		}
	}()
	return nil
}

func (l *Listener) forward(ctx context.Context, envelope Envelope) {
	payload, err := envelope.Encode()
	if err != nil {
		logger.L().Error("编码事件失败", "error", err, "kind", envelope.Kind)
		return
	}
	if err := l.producer.Publish(ctx, payload); err != nil {
		logger.L().Error("转发事件到队列失败", "error", err, "kind", envelope.Kind, "event_id", envelope.ID)
	}
}

// Close 取消链上订阅。
func (l *Listener) Close() {
	if l.sub != nil {
		l.sub.Close()
		l.sub = nil
	}
}
