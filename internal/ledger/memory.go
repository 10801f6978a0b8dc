package ledger

import (
	"context"
	"fmt"
	"sync"

	xerrors "Archive-Agents/internal/errors"
)

// MemoryLedger 以内存方式模拟订单簿合约，主要用于测试与本地演示。
type MemoryLedger struct {
	mu        sync.Mutex
	dispatch  sync.Mutex
	nextJobID uint64
	nextBidID uint64
	jobs      map[uint64]JobState
	bids      map[uint64][]Bid
	subs      map[int]*memorySubscription
	nextSub   int
	closed    bool
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		jobs: make(map[uint64]JobState),
		bids: make(map[uint64][]Bid),
		subs: make(map[int]*memorySubscription),
	}
}

type memorySubscription struct {
	handlers EventHandlers
	errCh    chan error
	cancel   func()
}

func (s *memorySubscription) Err() <-chan error { return s.errCh }

func (s *memorySubscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// PostJob 登记一个新任务并广播 JobPosted 事件。
func (m *MemoryLedger) PostJob(_ context.Context, description, metadataURI string, tags []string, deadline int64) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, xerrors.New(xerrors.CodeLedgerFailure, "内存账本已关闭")
	}
	m.nextJobID++
	jobID := m.nextJobID
	m.jobs[jobID] = JobState{
		JobID:       jobID,
		Description: description,
		MetadataURI: metadataURI,
		Tags:        append([]string(nil), tags...),
		Deadline:    deadline,
	}
	m.mu.Unlock()

	m.emitJobPosted(JobPosted{JobID: jobID, Deadline: deadline, Description: description})
	return jobID, nil
}

// PlaceBid 记录一笔竞标。
func (m *MemoryLedger) PlaceBid(_ context.Context, jobID uint64, amount, etaSeconds uint64, metadataURI string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, xerrors.New(xerrors.CodeLedgerFailure, "内存账本已关闭")
	}
	if _, ok := m.jobs[jobID]; !ok {
		return 0, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("任务 %d 不存在", jobID))
	}
	m.nextBidID++
	bid := Bid{
		BidID:       m.nextBidID,
		JobID:       jobID,
		Amount:      amount,
		ETASeconds:  etaSeconds,
		MetadataURI: metadataURI,
	}
	m.bids[jobID] = append(m.bids[jobID], bid)
	return bid.BidID, nil
}

// GetBidsForJob 返回指定任务的全部竞标。
func (m *MemoryLedger) GetBidsForJob(_ context.Context, jobID uint64) ([]Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := m.bids[jobID]
	clone := make([]Bid, len(bids))
	copy(clone, bids)
	return clone, nil
}

// AcceptBid 将竞标标记为已接受并广播 BidAccepted 事件。
func (m *MemoryLedger) AcceptBid(_ context.Context, jobID, bidID uint64, _ string) (string, error) {
	m.mu.Lock()
	var accepted *Bid
	for i := range m.bids[jobID] {
		if m.bids[jobID][i].BidID == bidID {
			m.bids[jobID][i].Accepted = true
			accepted = &m.bids[jobID][i]
			break
		}
	}
	if accepted == nil {
		m.mu.Unlock()
		return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("任务 %d 中不存在竞标 %d", jobID, bidID))
	}
	txHash := fmt.Sprintf("0xmem%08d", bidID)
	event := BidAccepted{
		JobID:  jobID,
		BidID:  bidID,
		Worker: accepted.Bidder,
		Amount: accepted.Amount,
		TxHash: txHash,
	}
	m.mu.Unlock()

	m.emitBidAccepted(event)
	return txHash, nil
}

// GetJob 返回任务的当前状态。
func (m *MemoryLedger) GetJob(_ context.Context, jobID uint64) (JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[jobID]
	if !ok {
		return JobState{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("任务 %d 不存在", jobID))
	}
	return state, nil
}

// SubscribeJobEvents 注册事件回调。
func (m *MemoryLedger) SubscribeJobEvents(_ context.Context, handlers EventHandlers) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, "内存账本已关闭")
	}
	m.nextSub++
	id := m.nextSub
	sub := &memorySubscription{handlers: handlers, errCh: make(chan error, 1)}
	sub.cancel = func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	m.subs[id] = sub
	return sub, nil
}

// Close 关闭账本并终止所有订阅。
func (m *MemoryLedger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subs {
		close(sub.errCh)
		delete(m.subs, id)
	}
}

// EmitJobPosted 允许测试直接注入带预算和类型的 JobPosted 事件。
func (m *MemoryLedger) EmitJobPosted(event JobPosted) {
	m.mu.Lock()
	if _, ok := m.jobs[event.JobID]; !ok {
		m.jobs[event.JobID] = JobState{
			JobID:       event.JobID,
			JobType:     event.JobType,
			Budget:      event.Budget,
			Deadline:    event.Deadline,
			Description: event.Description,
		}
		if event.JobID > m.nextJobID {
			m.nextJobID = event.JobID
		}
	}
	m.mu.Unlock()
	m.emitJobPosted(event)
}

// EmitBidAccepted 允许测试直接注入 BidAccepted 事件。
func (m *MemoryLedger) EmitBidAccepted(event BidAccepted) {
	m.emitBidAccepted(event)
}

func (m *MemoryLedger) snapshotSubs() []*memorySubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]*memorySubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (m *MemoryLedger) emitJobPosted(event JobPosted) {
	// dispatch 互斥保证事件按发出顺序送达。
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	for _, sub := range m.snapshotSubs() {
		if sub.handlers.OnJobPosted != nil {
			sub.handlers.OnJobPosted(event)
		}
	}
}

func (m *MemoryLedger) emitBidAccepted(event BidAccepted) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	for _, sub := range m.snapshotSubs() {
		if sub.handlers.OnBidAccepted != nil {
			sub.handlers.OnBidAccepted(event)
		}
	}
}

var _ Client = (*MemoryLedger)(nil)
