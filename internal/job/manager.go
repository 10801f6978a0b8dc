package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Archive-Agents/pkg/logger"
)

// DefaultGracePeriod 是终态任务在活跃集合中保留的时间，
// 留给状态查询方观察终态的窗口。
const DefaultGracePeriod = 60 * time.Second

// Manager 串行化所有对活跃任务集合的修改。
type Manager struct {
	mu      sync.Mutex
	jobs    map[uint64]*ActiveJob
	max     int
	grace   time.Duration
	history Store
	now     func() time.Time

	wg   sync.WaitGroup
	done chan struct{}
}

// ManagerOption 配置 Manager。
type ManagerOption func(*Manager)

// WithGracePeriod 覆盖终态任务的保留时间。
func WithGracePeriod(grace time.Duration) ManagerOption {
	return func(m *Manager) {
		if grace > 0 {
			m.grace = grace
		}
	}
}

// WithHistory 在任务进入终态时写入历史存储。
func WithHistory(store Store) ManagerOption {
	return func(m *Manager) { m.history = store }
}

// WithClock 覆盖时间源，供测试使用。
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建任务生命周期管理器。
func NewManager(maxConcurrent int, opts ...ManagerOption) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	m := &Manager{
		jobs:  make(map[uint64]*ActiveJob),
		max:   maxConcurrent,
		grace: DefaultGracePeriod,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track 登记一个新中标的任务。重复投递是无操作，返回 ErrJobConflict；
// 容量已满返回 ErrCapacityExceeded，由调用方决定告警策略。
func (m *Manager) Track(job ActiveJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return ErrJobConflict
	}
	if len(m.jobs) >= m.max {
		return ErrCapacityExceeded
	}

	now := m.now().Unix()
	job.Status = StatusAccepted
	job.AcceptedAt = now
	job.UpdatedAt = now
	m.jobs[job.JobID] = &job
	return nil
}

// Run 将任务转入 in_progress 并在独立协程中执行。
// 执行过程中的 panic 被捕获并记为失败，绝不扩散到进程。
func (m *Manager) Run(ctx context.Context, jobID uint64, executor Executor) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if entry.Status != StatusAccepted {
		m.mu.Unlock()
		return ErrJobConflict
	}
	entry.Status = StatusInProgress
	entry.UpdatedAt = m.now().Unix()
	snapshot := *entry
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(ctx, snapshot, executor)
	}()
	return nil
}

func (m *Manager) execute(ctx context.Context, snapshot ActiveJob, executor Executor) {
	var execErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				execErr = fmt.Errorf("任务执行发生 panic: %v", rec)
			}
		}()
		execErr = executor(ctx, snapshot)
	}()

	status := StatusCompleted
	lastError := ""
	if execErr != nil {
		status = StatusFailed
		lastError = execErr.Error()
		logger.L().Error("任务执行失败", "job_id", snapshot.JobID, "error", execErr)
	} else {
		logger.L().Info("任务执行完成", "job_id", snapshot.JobID)
	}
	m.finish(ctx, snapshot.JobID, status, lastError)
}

func (m *Manager) finish(ctx context.Context, jobID uint64, status Status, lastError string) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.Status = status
	entry.LastError = lastError
	entry.UpdatedAt = m.now().Unix()
	record := *entry
	m.mu.Unlock()

	if m.history != nil {
		if err := m.history.Record(ctx, HistoryEntry{
			JobID:      record.JobID,
			BidID:      record.BidID,
			JobType:    record.JobType.Label(),
			Amount:     record.Amount,
			Status:     record.Status,
			LastError:  record.LastError,
			AcceptedAt: record.AcceptedAt,
			FinishedAt: record.UpdatedAt,
		}); err != nil {
			logger.L().Warn("写入任务历史失败", "job_id", record.JobID, "error", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(m.grace):
			m.purge(jobID)
		case <-m.done:
		}
	}()
}

func (m *Manager) purge(jobID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.jobs[jobID]
	if ok && entry.Status.Terminal() {
		delete(m.jobs, jobID)
	}
}

// Get 返回任务快照。
func (m *Manager) Get(jobID uint64) (ActiveJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.jobs[jobID]
	if !ok {
		return ActiveJob{}, false
	}
	return *entry, true
}

// Count 返回当前占用容量的任务数量。
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// MaxConcurrent 返回容量上限。
func (m *Manager) MaxConcurrent() int {
	return m.max
}

// Snapshot 返回按任务 ID 排序的活跃任务快照。
func (m *Manager) Snapshot() []ActiveJob {
	m.mu.Lock()
	jobs := make([]ActiveJob, 0, len(m.jobs))
	for _, entry := range m.jobs {
		jobs = append(jobs, *entry)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobID < jobs[j].JobID })
	return jobs
}

// Shutdown 停止宽限期计时并等待执行中的任务结束，受 ctx 超时约束。
func (m *Manager) Shutdown(ctx context.Context) error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
