package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Archive-Agents/internal/bidding"
	"Archive-Agents/internal/events"
	"Archive-Agents/internal/job"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/observability/alerting"
	"Archive-Agents/internal/voice"
	"Archive-Agents/internal/wallet"
)

type stubCapability struct {
	profile  bidding.Profile
	executed atomic.Int64
	execErr  error
	block    chan struct{}
}

func newStubCapability() *stubCapability {
	return &stubCapability{
		profile: bidding.Profile{
			AgentType:         "test-agent",
			SupportedJobTypes: []ledger.JobType{ledger.JobTypeTikTokScrape},
		},
	}
}

func (c *stubCapability) Type() string             { return c.profile.AgentType }
func (c *stubCapability) Profile() bidding.Profile { return c.profile }

func (c *stubCapability) BiddingPrompt(posted ledger.JobPosted) string {
	return posted.Description
}

func (c *stubCapability) Execute(ctx context.Context, _ job.ActiveJob) error {
	c.executed.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.execErr
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type flakyLedger struct {
	ledger.Client
	failures int32
	attempts atomic.Int32
}

func (f *flakyLedger) PlaceBid(ctx context.Context, jobID uint64, amount, etaSeconds uint64, metadataURI string) (uint64, error) {
	n := f.attempts.Add(1)
	if n <= f.failures {
		return 0, context.DeadlineExceeded
	}
	return f.Client.PlaceBid(ctx, jobID, amount, etaSeconds, metadataURI)
}

func newTestWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("生成测试钱包失败: %v", err)
	}
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待条件超时")
}

func TestAgentBidsOnPostedJob(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	manager := job.NewManager(5)
	a := New(capability, newTestWallet(t), led, manager)

	ctx := context.Background()
	jobID, err := led.PostJob(ctx, "scrape trending sounds", "", nil, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("PostJob 失败: %v", err)
	}

	a.handleJobPosted(ctx, ledger.JobPosted{
		JobID:       jobID,
		JobType:     ledger.JobTypeTikTokScrape,
		Budget:      2_000_000,
		Description: "scrape trending sounds",
	})

	waitFor(t, time.Second, func() bool {
		bids, err := led.GetBidsForJob(ctx, jobID)
		return err == nil && len(bids) == 1
	})

	bids, _ := led.GetBidsForJob(ctx, jobID)
	if got, want := bids[0].Amount, uint64(1_600_000); got != want {
		t.Fatalf("出价金额 = %d, 期望 %d", got, want)
	}
	if bids[0].ETASeconds != bidding.DefaultETASeconds {
		t.Fatalf("ETA = %d, 期望 %d", bids[0].ETASeconds, bidding.DefaultETASeconds)
	}
}

func TestAgentSkipsUnsupportedJobType(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	a := New(capability, newTestWallet(t), led, job.NewManager(5))

	ctx := context.Background()
	jobID, err := led.PostJob(ctx, "verify a phone number", "", nil, 0)
	if err != nil {
		t.Fatalf("PostJob 失败: %v", err)
	}

	a.handleJobPosted(ctx, ledger.JobPosted{
		JobID:   jobID,
		JobType: ledger.JobTypeCallVerification,
		Budget:  2_000_000,
	})
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown 失败: %v", err)
	}

	bids, err := led.GetBidsForJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetBidsForJob 失败: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("不支持的任务类型不应出价, 实际出价数 = %d", len(bids))
	}
}

func TestAgentRetriesBidPlacement(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	flaky := &flakyLedger{Client: led, failures: 2}
	capability := newStubCapability()
	a := New(capability, newTestWallet(t), flaky, job.NewManager(5),
		WithBidRetry(3, time.Millisecond))

	ctx := context.Background()
	jobID, err := led.PostJob(ctx, "scrape hashtag volume", "", nil, 0)
	if err != nil {
		t.Fatalf("PostJob 失败: %v", err)
	}

	a.handleJobPosted(ctx, ledger.JobPosted{
		JobID:   jobID,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  2_000_000,
	})

	waitFor(t, time.Second, func() bool {
		bids, err := led.GetBidsForJob(ctx, jobID)
		return err == nil && len(bids) == 1
	})
	if got := flaky.attempts.Load(); got != 3 {
		t.Fatalf("出价尝试次数 = %d, 期望 3", got)
	}
}

func TestAgentExecutesAcceptedJob(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	manager := job.NewManager(5, job.WithGracePeriod(20*time.Millisecond))
	w := newTestWallet(t)
	a := New(capability, w, led, manager)

	ctx := context.Background()
	a.handleBidAccepted(ctx, ledger.BidAccepted{
		JobID:  7,
		BidID:  1,
		Worker: w.Address(),
		Amount: 900_000,
	})

	waitFor(t, time.Second, func() bool { return capability.executed.Load() == 1 })
	waitFor(t, time.Second, func() bool { return manager.Count() == 0 })

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown 失败: %v", err)
	}
}

func TestAgentIgnoresForeignBidAccepted(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	manager := job.NewManager(5)
	a := New(capability, newTestWallet(t), led, manager)

	a.handleBidAccepted(context.Background(), ledger.BidAccepted{
		JobID:  1,
		BidID:  1,
		Worker: "0x00000000000000000000000000000000000000aa",
		Amount: 500_000,
	})

	if manager.Count() != 0 {
		t.Fatalf("他人中标不应登记任务, 活跃数 = %d", manager.Count())
	}
	if capability.executed.Load() != 0 {
		t.Fatalf("他人中标不应触发执行")
	}
}

func TestAgentDuplicateBidAcceptedIsNoop(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	capability.block = make(chan struct{})
	manager := job.NewManager(5)
	w := newTestWallet(t)
	a := New(capability, w, led, manager)

	ctx := context.Background()
	event := ledger.BidAccepted{JobID: 3, BidID: 9, Worker: w.Address(), Amount: 1_000}
	a.handleBidAccepted(ctx, event)
	waitFor(t, time.Second, func() bool { return capability.executed.Load() == 1 })
	a.handleBidAccepted(ctx, event)

	if manager.Count() != 1 {
		t.Fatalf("重复事件后的活跃数 = %d, 期望 1", manager.Count())
	}
	if capability.executed.Load() != 1 {
		t.Fatalf("重复事件不应重复执行, 执行次数 = %d", capability.executed.Load())
	}
	close(capability.block)
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown 失败: %v", err)
	}
}

func TestAgentAlertsWhenCapacityExceeded(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	capability.block = make(chan struct{})
	manager := job.NewManager(1)
	w := newTestWallet(t)
	alerts := &recordingAlerts{}
	a := New(capability, w, led, manager, WithAlerts(alerts))

	ctx := context.Background()
	a.handleBidAccepted(ctx, ledger.BidAccepted{JobID: 1, BidID: 1, Worker: w.Address()})
	waitFor(t, time.Second, func() bool { return capability.executed.Load() == 1 })

	a.handleBidAccepted(ctx, ledger.BidAccepted{JobID: 2, BidID: 2, Worker: w.Address()})

	if manager.Count() != 1 {
		t.Fatalf("超容事件不应登记, 活跃数 = %d", manager.Count())
	}
	if alerts.count() != 1 {
		t.Fatalf("超容丢弃应产生一条告警, 实际 = %d", alerts.count())
	}
	close(capability.block)
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown 失败: %v", err)
	}
}

func TestConcurrencyOverrideReachesBidPrecheck(t *testing.T) {
	capability := NewScraperCapability(nil, WithScraperConcurrency(1))
	if got := capability.Profile().MaxConcurrentJobs; got != 1 {
		t.Fatalf("抓取能力并发上限 = %d, 期望 1", got)
	}

	engine := bidding.NewEngine(capability.Profile(), nil, capability.BiddingPrompt)
	posted := ledger.JobPosted{JobID: 5, JobType: ledger.JobTypeTikTokScrape, Budget: 2_000_000}
	if decision := engine.Evaluate(context.Background(), posted, 1); decision.ShouldBid {
		t.Fatalf("满载时预检应拒绝出价: %+v", decision)
	}
	if decision := engine.Evaluate(context.Background(), posted, 0); !decision.ShouldBid {
		t.Fatalf("空闲时预检应放行: %+v", decision)
	}

	caller := NewCallerCapability(voice.NewNotifier(voice.Config{}), WithCallerConcurrency(4))
	if got := caller.Profile().MaxConcurrentJobs; got != 4 {
		t.Fatalf("电话核验能力并发上限 = %d, 期望 4", got)
	}
}

func TestAgentStopsBiddingAtSharedCap(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()

	block := make(chan struct{})
	capability := NewScraperCapability(nil,
		WithScraperConcurrency(1),
		WithScrapeFunc(func(ctx context.Context, _ string) ([]byte, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return []byte("ok"), nil
		}))
	manager := job.NewManager(capability.Profile().MaxConcurrentJobs)
	w := newTestWallet(t)
	a := New(capability, w, led, manager)

	ctx := context.Background()
	a.handleBidAccepted(ctx, ledger.BidAccepted{JobID: 1, BidID: 1, Worker: w.Address()})
	waitFor(t, time.Second, func() bool { return manager.Count() == 1 })

	jobID, err := led.PostJob(ctx, "scrape while busy", "", nil, 0)
	if err != nil {
		t.Fatalf("PostJob 失败: %v", err)
	}
	a.handleJobPosted(ctx, ledger.JobPosted{
		JobID:   jobID,
		JobType: ledger.JobTypeTikTokScrape,
		Budget:  2_000_000,
	})

	close(block)
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown 失败: %v", err)
	}

	bids, err := led.GetBidsForJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetBidsForJob 失败: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("满载时不应出价, 实际出价数 = %d", len(bids))
	}
}

func TestAgentEndToEndThroughQueue(t *testing.T) {
	led := ledger.NewMemoryLedger()
	defer led.Close()
	capability := newStubCapability()
	manager := job.NewManager(5, job.WithGracePeriod(20*time.Millisecond))
	w := newTestWallet(t)
	a := New(capability, w, led, manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := events.NewMemoryQueue(16)
	defer queue.Close()
	listener := events.NewListener(led, queue)
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("启动事件监听失败: %v", err)
	}
	defer listener.Close()

	dispatcher := events.NewDispatcher(queue, a.EventHandlers())
	go func() { _ = dispatcher.Run(ctx) }()

	led.EmitJobPosted(ledger.JobPosted{
		JobID:       11,
		JobType:     ledger.JobTypeTikTokScrape,
		Budget:      3_000_000,
		Description: "collect creator stats",
	})

	waitFor(t, 2*time.Second, func() bool { return a.bidsPlaced.Load() == 1 })

	led.EmitBidAccepted(ledger.BidAccepted{
		JobID:  11,
		BidID:  1,
		Worker: w.Address(),
		Amount: 2_400_000,
	})

	waitFor(t, 2*time.Second, func() bool { return capability.executed.Load() == 1 })
}
