package events

import (
	"context"
	"errors"

	"Archive-Agents/pkg/logger"
)

// Handlers 定义事件分发的业务回调。
type Handlers struct {
	OnJobPosted   func(ctx context.Context, envelope Envelope)
	OnBidAccepted func(ctx context.Context, envelope Envelope)
}

// Dispatcher 从队列消费事件并按类型分发给回调。
// 单工作协程消费，保证事件按队列顺序依次处理。
type Dispatcher struct {
	consumer Consumer
	handlers Handlers
}

// NewDispatcher 创建事件分发器。
func NewDispatcher(consumer Consumer, handlers Handlers) *Dispatcher {
	return &Dispatcher{consumer: consumer, handlers: handlers}
}

// Run 阻塞消费队列，直到 ctx 取消。
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.consumer == nil {
		return errors.New("分发器缺少队列消费者")
	}
	return d.consumer.Consume(ctx, 1, d.handle)
}

func (d *Dispatcher) handle(ctx context.Context, payload string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Error("事件处理发生 panic", "panic", rec)
			err = nil
		}
	}()

	envelope, decodeErr := DecodeEnvelope(payload)
	if decodeErr != nil {
		// 无法解析的负载直接丢弃，避免重投循环。
		logger.L().Warn("丢弃无法解析的事件负载", "error", decodeErr)
		return nil
	}

	switch envelope.Kind {
	case KindJobPosted:
		if d.handlers.OnJobPosted != nil {
			d.handlers.OnJobPosted(ctx, envelope)
		}
	case KindBidAccepted:
		if d.handlers.OnBidAccepted != nil {
			d.handlers.OnBidAccepted(ctx, envelope)
		}
	}
	return nil
}
