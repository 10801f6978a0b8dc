package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"Archive-Agents/internal/ledger"
)

func TestDispatcherPreservesOrder(t *testing.T) {
	queue := NewMemoryQueue(16)
	defer queue.Close()

	var mu sync.Mutex
	var seen []uint64
	done := make(chan struct{})
	dispatcher := NewDispatcher(queue, Handlers{
		OnJobPosted: func(_ context.Context, envelope Envelope) {
			mu.Lock()
			seen = append(seen, envelope.JobPosted.JobID)
			if len(seen) == 3 {
				close(done)
			}
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	for _, id := range []uint64{1, 2, 3} {
		payload, err := NewJobPostedEnvelope(ledger.JobPosted{JobID: id}).Encode()
		if err != nil {
			t.Fatalf("编码事件失败: %v", err)
		}
		if err := queue.Publish(ctx, payload); err != nil {
			t.Fatalf("投递事件失败: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("等待事件分发超时")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range []uint64{1, 2, 3} {
		if seen[i] != id {
			t.Fatalf("事件顺序错乱: %v", seen)
		}
	}
}

func TestDispatcherDropsMalformedPayload(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	received := make(chan Envelope, 1)
	dispatcher := NewDispatcher(queue, Handlers{
		OnBidAccepted: func(_ context.Context, envelope Envelope) {
			received <- envelope
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	if err := queue.Publish(ctx, "{not json"); err != nil {
		t.Fatalf("投递事件失败: %v", err)
	}
	payload, err := NewBidAcceptedEnvelope(ledger.BidAccepted{JobID: 7, BidID: 9}).Encode()
	if err != nil {
		t.Fatalf("编码事件失败: %v", err)
	}
	if err := queue.Publish(ctx, payload); err != nil {
		t.Fatalf("投递事件失败: %v", err)
	}

	select {
	case envelope := <-received:
		if envelope.BidAccepted.JobID != 7 {
			t.Fatalf("事件内容不符: %+v", envelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("坏负载不应阻塞后续事件")
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	calls := make(chan uint64, 2)
	dispatcher := NewDispatcher(queue, Handlers{
		OnJobPosted: func(_ context.Context, envelope Envelope) {
			calls <- envelope.JobPosted.JobID
			if envelope.JobPosted.JobID == 1 {
				panic("handler exploded")
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	for _, id := range []uint64{1, 2} {
		payload, err := NewJobPostedEnvelope(ledger.JobPosted{JobID: id}).Encode()
		if err != nil {
			t.Fatalf("编码事件失败: %v", err)
		}
		if err := queue.Publish(ctx, payload); err != nil {
			t.Fatalf("投递事件失败: %v", err)
		}
	}

	for _, want := range []uint64{1, 2} {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("期望事件 %d, 实际 %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("panic 之后事件分发应继续")
		}
	}
}

func TestListenerForwardsLedgerEvents(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	queue := NewMemoryQueue(8)
	defer queue.Close()

	listener := NewListener(led, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("启动监听器失败: %v", err)
	}
	defer listener.Close()

	received := make(chan Envelope, 1)
	dispatcher := NewDispatcher(queue, Handlers{
		OnJobPosted: func(_ context.Context, envelope Envelope) {
			received <- envelope
		},
	})
	go func() { _ = dispatcher.Run(ctx) }()

	led.EmitJobPosted(ledger.JobPosted{JobID: 11, Budget: 5_000_000, Description: "scrape profile"})

	select {
	case envelope := <-received:
		if envelope.JobPosted.JobID != 11 || envelope.JobPosted.Budget != 5_000_000 {
			t.Fatalf("转发事件内容不符: %+v", envelope)
		}
		if envelope.ID == "" {
			t.Fatal("事件封装缺少 ID")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待链上事件转发超时")
	}
}
